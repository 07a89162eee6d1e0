package ports

import "codepad/apps/editor/internal/events"

type EventPublisher interface {
	Publish(event events.Event)
}

type DirectoryWatcher interface {
	Watch(dir string) error
	Unwatch(dir string) error
}
