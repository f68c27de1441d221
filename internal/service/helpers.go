package service

import (
	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
)

var jsonMarshal = jsoniter.ConfigCompatibleWithStandardLibrary.Marshal

func errorsAs(err error, target interface{}) bool {
	return errors.As(err, target)
}

func errorsIs(err, target error) bool {
	return errors.Is(err, target)
}
