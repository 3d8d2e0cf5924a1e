package series

import (
	"encoding/json"
	"time"
)

// Partial updates need three states per field: absent, explicit null, and a
// value. The Opt types record which one the payload carried so the validator
// can tell "leave it alone" apart from "clear it".

type OptInt struct {
	Set   bool
	Valid bool // false when the payload carried an explicit null
	Value int
}

func (o *OptInt) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		return nil
	}
	if err := json.Unmarshal(b, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}

type OptUint struct {
	Set   bool
	Valid bool
	Value uint
}

func (o *OptUint) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		return nil
	}
	if err := json.Unmarshal(b, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}

type OptString struct {
	Set   bool
	Valid bool
	Value string
}

func (o *OptString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		return nil
	}
	if err := json.Unmarshal(b, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}

type OptTime struct {
	Set   bool
	Valid bool
	Value time.Time
}

func (o *OptTime) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		return nil
	}
	if err := json.Unmarshal(b, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}
