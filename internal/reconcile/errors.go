package reconcile

import (
	"fmt"
	"strings"
)

// TorrentError is a failure to process one torrent. It never stops sibling
// torrents from being processed.
type TorrentError struct {
	Hash string
	Name string
	Err  error
}

func (e *TorrentError) Error() string {
	return fmt.Sprintf("torrent %q (%s): %v", e.Name, e.Hash, e.Err)
}

func (e *TorrentError) Unwrap() error {
	return e.Err
}

// AggregateError collects every failure seen while reconciling one server.
type AggregateError struct {
	Server string
	Errs   []error
}

func (e *AggregateError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}

	return fmt.Sprintf("server %s: %d error(s): %s", e.Server, len(e.Errs), strings.Join(msgs, "; "))
}

func (e *AggregateError) Unwrap() []error {
	return e.Errs
}

// Len returns how many failures were collected.
func (e *AggregateError) Len() int {
	return len(e.Errs)
}
