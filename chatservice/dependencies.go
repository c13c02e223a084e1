// Package chatservice assembles the two process roles of the chat fleet: an
// edge, which hosts client WebSocket sessions, and a router, which runs the
// routing worker. Both share the presence directory and the message bus.
package chatservice

import (
	"errors"
	"fmt"

	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

// Dependencies holds the external collaborators of a process.
type Dependencies struct {
	Directory chat.Directory
	Bus       chat.Bus
}

func (d *Dependencies) validate() error {
	if d == nil {
		return fmt.Errorf("dependencies cannot be nil")
	}
	if d.Directory == nil {
		return fmt.Errorf("directory cannot be nil")
	}
	if d.Bus == nil {
		return fmt.Errorf("bus cannot be nil")
	}
	return nil
}

// Close releases the bus and the directory.
func (d *Dependencies) Close() error {
	var errs []error
	if d.Bus != nil {
		if err := d.Bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close bus: %w", err))
		}
	}
	if d.Directory != nil {
		if err := d.Directory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close directory: %w", err))
		}
	}
	return errors.Join(errs...)
}
