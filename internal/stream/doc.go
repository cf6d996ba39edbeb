// Package stream defines the append-only stream transport shared by the
// event publisher, the event listener and the distributed task queue.
//
// A transport stores entries per topic and delivers them to consumer groups.
// Each group has its own cursor, so every group sees every entry, while the
// consumers inside one group split the entries between them. Delivered
// entries stay pending until acknowledged; entries pending longer than a
// visibility timeout can be claimed by another consumer of the same group.
package stream
