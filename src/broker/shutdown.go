package broker

import "errors"

// Shutdowner is anything ShutdownAll can release.
type Shutdowner interface {
	Shutdown() error
}

// ShutdownAll shuts down every component that is present. Nil interfaces
// and nil *Publisher, *Subscriber or *Handle values are skipped, so it can
// run on error paths where some components were never created.
func ShutdownAll(parts ...Shutdowner) error {
	var errs []error
	for _, p := range parts {
		if p == nil {
			continue
		}
		if err := p.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
