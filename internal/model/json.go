package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// MarshalJSON renders a scalar Choice as a bare number and a list Choice
// as an array, preserving the wire shape votes arrive in.
func (c Choice) MarshalJSON() ([]byte, error) {
	if c.List != nil {
		return json.Marshal(c.List)
	}
	if c.Scalar != nil {
		return json.Marshal(*c.Scalar)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts either a bare number or an array of numbers.
func (c *Choice) UnmarshalJSON(data []byte) error {
	var asList []int
	if err := json.Unmarshal(data, &asList); err == nil {
		c.List = asList
		c.Scalar = nil
		return nil
	}

	var asScalar int
	if err := json.Unmarshal(data, &asScalar); err == nil {
		c.Scalar = &asScalar
		c.List = nil
		return nil
	}

	return fmt.Errorf("choice: unsupported JSON shape %q", string(data))
}

// Value implements driver.Valuer for the jsonb `choice` column.
func (c Choice) Value() (driver.Value, error) {
	return c.MarshalJSON()
}

// Scan implements sql.Scanner for the jsonb `choice` column.
func (c *Choice) Scan(src interface{}) error {
	b, err := bytesOf(src)
	if err != nil {
		return err
	}
	return c.UnmarshalJSON(b)
}

// Value implements driver.Valuer for the jsonb `proposal.metadata` column.
func (m ProposalMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for the jsonb `proposal.metadata` column.
func (m *ProposalMetadata) Scan(src interface{}) error {
	b, err := bytesOf(src)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*m = ProposalMetadata{}
		return nil
	}
	return json.Unmarshal(b, m)
}

// ActionSummaries is the jsonb-backed slice type for DiscoursePost.ActionsSummary.
type ActionSummaries []ActionSummary

// Value implements driver.Valuer.
func (a ActionSummaries) Value() (driver.Value, error) {
	return json.Marshal([]ActionSummary(a))
}

// Scan implements sql.Scanner.
func (a *ActionSummaries) Scan(src interface{}) error {
	b, err := bytesOf(src)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*a = nil
		return nil
	}
	return json.Unmarshal(b, (*[]ActionSummary)(a))
}

// ProposalGroupItems is the jsonb-backed slice type for ProposalGroup.Items.
type ProposalGroupItems []ProposalGroupItem

// Value implements driver.Valuer.
func (items ProposalGroupItems) Value() (driver.Value, error) {
	return json.Marshal([]ProposalGroupItem(items))
}

// Scan implements sql.Scanner.
func (items *ProposalGroupItems) Scan(src interface{}) error {
	b, err := bytesOf(src)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*items = nil
		return nil
	}
	return json.Unmarshal(b, (*[]ProposalGroupItem)(items))
}

// Embedding is the jsonb-backed vector type for
// ProposalGroup.RepresentativeEmbedding.
type Embedding []float64

// Value implements driver.Valuer.
func (e Embedding) Value() (driver.Value, error) {
	if e == nil {
		return nil, nil
	}
	return json.Marshal([]float64(e))
}

// Scan implements sql.Scanner.
func (e *Embedding) Scan(src interface{}) error {
	b, err := bytesOf(src)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*e = nil
		return nil
	}
	return json.Unmarshal(b, (*[]float64)(e))
}

func bytesOf(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported scan source type %T", src)
	}
}
