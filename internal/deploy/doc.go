// Package deploy is the deployment core: the name registry, the instance
// launcher, the teardown driver, and the join and gate primitives they are
// built on. A deploy fans N independent launches out across the reactor's
// contexts; a join fires the caller's callback after exactly N launches
// finish, successes and failures alike; teardown pins every stop to the
// context that ran the matching start.
package deploy
