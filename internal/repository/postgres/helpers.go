package postgres

import "github.com/cockroachdb/errors"

func errorsAs(err error, target interface{}) bool {
	return errors.As(err, target)
}
