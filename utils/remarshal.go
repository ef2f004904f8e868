package utils

import (
	"github.com/go-json-experiment/json"
)

// Remarshal copies input into output through its JSON form, typically to
// turn a decoded map into a struct.
func Remarshal(input, output any) error {
	b, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, output)
}
