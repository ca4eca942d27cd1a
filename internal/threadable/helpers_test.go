package threadable

import "github.com/chirino/thread-service/internal/registry/intids"

func eventFor(obj any, id int64) intids.Event {
	return intids.Event{Object: obj, ID: id}
}
