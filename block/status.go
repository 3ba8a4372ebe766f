// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package block

import (
	"encoding/json"
	"errors"
	"fmt"
)

var errUnknownStatus = errors.New("unknown status")

// Status is the outcome of a block election.
type Status uint8

const (
	Undecided Status = iota
	Valid
	Invalid
)

func (s Status) String() string {
	switch s {
	case Undecided:
		return "undecided"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	if s > Invalid {
		return nil, errUnknownStatus
	}
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	for _, status := range []Status{Undecided, Valid, Invalid} {
		if status.String() == str {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("%w: %q", errUnknownStatus, str)
}

// TxStatus is where a transaction currently stands as seen from outside.
type TxStatus uint8

const (
	TxUnknown TxStatus = iota
	TxBacklog
	TxUndecided
	TxValid
)

func (s TxStatus) String() string {
	switch s {
	case TxBacklog:
		return "backlog"
	case TxUndecided:
		return "undecided"
	case TxValid:
		return "valid"
	default:
		return "unknown"
	}
}

func (s TxStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *TxStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	for _, status := range []TxStatus{TxUnknown, TxBacklog, TxUndecided, TxValid} {
		if status.String() == str {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("%w: %q", errUnknownStatus, str)
}
