package model

// FormatType is the declared type of a variable.
type FormatType string

const (
	FormatString  FormatType = "string"
	FormatNumber  FormatType = "number"
	FormatBoolean FormatType = "boolean"
	FormatList    FormatType = "list"
	FormatObject  FormatType = "object"
)

// Valid reports whether t is one of the known format types.
func (t FormatType) Valid() bool {
	switch t {
	case FormatString, FormatNumber, FormatBoolean, FormatList, FormatObject:
		return true
	}
	return false
}

// VariableFormat describes how a variable value must look. Options is
// required iff Type is list.
type VariableFormat struct {
	Type        FormatType `json:"type"`
	Description string     `json:"description,omitempty"`
	Options     []string   `json:"options,omitempty"`
}

// VariableDeclaration declares a variable the graph may extract or bind.
type VariableDeclaration struct {
	VariableID            string         `json:"variable_id"`
	VariableName          string         `json:"variable_name,omitempty"`
	ExtractionDescription string         `json:"extraction_description,omitempty"`
	Format                VariableFormat `json:"format"`
	// Nodes restricts extraction to the listed talk node ids. Empty means
	// every talk node may extract the variable.
	Nodes []string `json:"nodes,omitempty"`
}

// DisplayName falls back to the id when no display name was given.
func (d VariableDeclaration) DisplayName() string {
	if d.VariableName != "" {
		return d.VariableName
	}
	return d.VariableID
}

// Extractable reports whether the declaration should be extracted from the
// output of the given node.
func (d VariableDeclaration) Extractable(nodeID string) bool {
	if d.ExtractionDescription == "" {
		return false
	}
	if len(d.Nodes) == 0 {
		return true
	}
	for _, id := range d.Nodes {
		if id == nodeID {
			return true
		}
	}
	return false
}
