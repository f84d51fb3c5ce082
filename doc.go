// Package tablekeep keeps shared in-memory tables alive across crashes of
// the workers responsible for them.
//
// Each table is held by a pair of cooperating workers: an owner, which holds
// live access rights, and an heir, registered to inherit the table if the
// owner terminates. A keeper supervises the pair. When either worker crashes
// the keeper restarts only that worker (one-for-one) and re-runs the
// nomination protocol: after an owner crash the table has already been
// re-pointed at the heir, so the promoted owner registers the replacement as
// the new heir; after an heir crash the untouched owner does the same. In
// both paths the terminal step is identical, and it is that step which
// restores the guarantee of exactly one owner and one heir.
//
// The one acknowledged limitation is the double crash: if owner and heir
// both terminate inside a single recovery window, before re-nomination
// completes, the table is destroyed along with its contents. Closing this
// window would require consensus machinery well outside this package's
// scope, so it is documented rather than masked; after a loss, Owner and
// Heir simply report that the table no longer exists.
//
// A crash-looping worker cannot take the process down with endless restarts:
// a keeper whose crash rate exceeds its restart intensity shuts the whole
// unit down and reports ErrCrashLoop.
//
// Tables live in the memory of a single process. tablekeep makes a table
// survive the crash of its managing workers, not process exit; there is no
// distribution, replication, or durable persistence here.
package tablekeep
