package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	loopSuffix = "..."
	edgeSuffix = "?"
)

// ParseDefinition decodes a workflow JSON document into its typed form.
//
// Steps are decoded token by token rather than through a map so that the
// document's key insertion order is preserved (the interpreter executes
// invocations in that order) and so that duplicate edge keys for the same
// outcome can be rejected up front.
func ParseDefinition(data []byte) (*Definition, error) {
	var raw struct {
		ID           string            `json:"id"`
		Name         string            `json:"name"`
		Version      string            `json:"version"`
		InitialState map[string]any    `json:"initialState"`
		Workflow     []json.RawMessage `json:"workflow"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("invalid workflow document: %v", err)}
	}
	if raw.ID == "" {
		return nil, &ConfigurationError{Reason: "workflow id is required"}
	}

	def := &Definition{
		ID:           raw.ID,
		Name:         raw.Name,
		Version:      raw.Version,
		InitialState: raw.InitialState,
	}
	for i, rawStep := range raw.Workflow {
		step, err := parseStep(rawStep)
		if err != nil {
			return nil, fmt.Errorf("workflow[%d]: %w", i, err)
		}
		def.Workflow = append(def.Workflow, *step)
	}
	return def, nil
}

// UnmarshalJSON implements json.Unmarshaler via ParseDefinition.
func (d *Definition) UnmarshalJSON(data []byte) error {
	parsed, err := ParseDefinition(data)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

func parseStep(raw json.RawMessage) (*Step, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return nil, &ConfigurationError{Reason: "step must be a JSON object"}
	}

	step := &Step{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key := tok.(string)

		var rawValue json.RawMessage
		if err := dec.Decode(&rawValue); err != nil {
			return nil, err
		}

		inv := NodeInvocation{
			Type:   strings.TrimSuffix(key, loopSuffix),
			IsLoop: strings.HasSuffix(key, loopSuffix),
		}
		if inv.Type == "" {
			return nil, &ConfigurationError{Reason: "node type identifier must not be empty"}
		}
		if err := parseInvocationBody(&inv, rawValue); err != nil {
			return nil, fmt.Errorf("node %q: %w", inv.Type, err)
		}
		step.Invocations = append(step.Invocations, inv)
	}
	if len(step.Invocations) == 0 {
		return nil, &ConfigurationError{Reason: "step has no node invocations"}
	}
	return step, nil
}

// parseInvocationBody splits a node's raw configuration object into plain
// config entries and edge targets.
func parseInvocationBody(inv *NodeInvocation, raw json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return &ConfigurationError{Reason: "node configuration must be a JSON object"}
	}

	inv.Config = make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)

		var rawValue json.RawMessage
		if err := dec.Decode(&rawValue); err != nil {
			return err
		}

		if !strings.HasSuffix(key, edgeSuffix) {
			var v any
			if err := unmarshalUseNumber(rawValue, &v); err != nil {
				return err
			}
			inv.Config[key] = v
			continue
		}

		outcome := strings.TrimSuffix(key, edgeSuffix)
		if outcome == "" {
			return &ConfigurationError{Reason: "edge key must name an outcome"}
		}
		if inv.Edges == nil {
			inv.Edges = make(map[string]Target)
		}
		if _, dup := inv.Edges[outcome]; dup {
			return &ConfigurationError{Reason: fmt.Sprintf("duplicate edge key for outcome %q", outcome)}
		}

		target, err := parseTarget(rawValue)
		if err != nil {
			return fmt.Errorf("edge %q: %w", outcome, err)
		}
		inv.Edges[outcome] = target
	}
	return nil
}

func parseTarget(raw json.RawMessage) (Target, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Target{}, &ConfigurationError{Reason: "edge target is empty"}
	}
	switch trimmed[0] {
	case '"':
		var ref string
		if err := json.Unmarshal(trimmed, &ref); err != nil {
			return Target{}, err
		}
		if ref == "" {
			return Target{}, &ConfigurationError{Reason: "edge reference must not be empty"}
		}
		return Target{Ref: ref}, nil
	case '{':
		step, err := parseStep(trimmed)
		if err != nil {
			return Target{}, err
		}
		return Target{Step: step}, nil
	default:
		return Target{}, &ConfigurationError{Reason: "edge target must be a reference string or a nested step"}
	}
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func unmarshalUseNumber(raw json.RawMessage, v *any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// MarshalJSON re-encodes the typed definition in the key-suffix wire format,
// so a parsed (or generated) definition can round-trip back to the schema
// external tools consume.
func (d Definition) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeField(&buf, "id", d.ID)
	buf.WriteByte(',')
	writeField(&buf, "name", d.Name)
	buf.WriteByte(',')
	writeField(&buf, "version", d.Version)
	if d.InitialState != nil {
		buf.WriteString(`,"initialState":`)
		if err := writeValue(&buf, d.InitialState); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`,"workflow":[`)
	for i := range d.Workflow {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeStep(&buf, &d.Workflow[i]); err != nil {
			return nil, err
		}
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

func writeStep(buf *bytes.Buffer, s *Step) error {
	buf.WriteByte('{')
	for i, inv := range s.Invocations {
		if i > 0 {
			buf.WriteByte(',')
		}
		key := inv.Type
		if inv.IsLoop {
			key += loopSuffix
		}
		if err := writeString(buf, key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeInvocationBody(buf, &inv); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeInvocationBody(buf *bytes.Buffer, inv *NodeInvocation) error {
	buf.WriteByte('{')
	first := true

	// Config keys are sorted for deterministic output; the interpreter only
	// depends on invocation order, not config key order.
	keys := make([]string, 0, len(inv.Config))
	for k := range inv.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := writeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeValue(buf, inv.Config[k]); err != nil {
			return err
		}
	}

	outcomes := make([]string, 0, len(inv.Edges))
	for o := range inv.Edges {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := writeString(buf, o+edgeSuffix); err != nil {
			return err
		}
		buf.WriteByte(':')
		t := inv.Edges[o]
		if t.Ref != "" {
			if err := writeString(buf, t.Ref); err != nil {
				return err
			}
		} else if t.Step != nil {
			if err := writeStep(buf, t.Step); err != nil {
				return err
			}
		} else {
			buf.WriteString("null")
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeField(buf *bytes.Buffer, name, value string) {
	_ = writeString(buf, name)
	buf.WriteByte(':')
	_ = writeString(buf, value)
}

func writeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
