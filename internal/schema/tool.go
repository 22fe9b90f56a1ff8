// Package schema contains the data model shared across toolrelay packages:
// tool descriptors, call requests and results, conversation turns and the
// decision oracle contract.
package schema

import (
	"encoding/json"
	"regexp"
)

// ParamType is the closed set of parameter kinds a tool may declare.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

// ParseParamType maps a JSON Schema type keyword onto ParamType.
// ok is false for anything outside the closed set.
func ParseParamType(s string) (ParamType, bool) {
	switch t := ParamType(s); t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray:
		return t, true
	}
	return "", false
}

// Param is one named, typed tool parameter.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []any

	// Items describes array elements. nil accepts any element.
	Items *Param
	// Properties describes object members in declaration order.
	Properties []Param
}

// ToolDescriptor is the immutable description of one remote tool as
// published by its server.
type ToolDescriptor struct {
	Name        string // registry-unique qualified name
	LocalName   string // name the owning server knows the tool by
	Server      string
	Description string
	Params      []Param
	// Strict tools reject parameters they do not declare.
	Strict bool
	// InputSchema is the server's JSON Schema, forwarded to the oracle as-is.
	InputSchema json.RawMessage
}

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidToolName reports whether name is acceptable as a function name by
// the oracle backends.
func ValidToolName(name string) bool {
	return toolNamePattern.MatchString(name)
}

// QualifiedName joins a server namespace and a local tool name.
// An empty namespace exposes the bare local name.
func QualifiedName(namespace, local string) string {
	if namespace == "" {
		return local
	}
	return namespace + "_" + local
}
