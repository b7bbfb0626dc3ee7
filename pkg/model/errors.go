package model

import (
	"errors"
	"fmt"
)

var errNegativeLimit = errors.New("filter limit must not be negative")

func errRequired(what string) error {
	return fmt.Errorf("%s is required", what)
}
