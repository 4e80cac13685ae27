// Package bpmn extracts display names from BPMN process diagrams.
package bpmn

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"golang.org/x/text/unicode/norm"
)

type process struct {
	id    string
	name  string
	named bool
}

// processes returns the process elements of a diagram in document order.
func processes(content []byte) ([]process, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	// entities are never resolved
	dec.Strict = true
	dec.Entity = map[string]string{}

	var procs []process
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return procs, nil
		}
		if err != nil {
			return nil, err
		}
		el, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(el.Name.Local, "process") {
			continue
		}

		var p process
		for _, attr := range el.Attr {
			switch attr.Name.Local {
			case "id":
				p.id = attr.Value
			case "name":
				p.name, p.named = norm.NFC.String(strings.TrimSpace(attr.Value)), true
			}
		}
		procs = append(procs, p)
	}
}

// ProcessNames returns the display names of all named processes of a BPMN
// diagram by process id. It fails if the document is not well-formed XML.
func ProcessNames(content []byte) (map[string]string, error) {
	procs, err := processes(content)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string)
	for _, p := range procs {
		if p.named {
			names[p.id] = p.name
		}
	}
	return names, nil
}

// ExtractDisplayName returns the name of the last named process of a BPMN
// diagram. It reports false if the diagram cannot be parsed or has no named
// process.
func ExtractDisplayName(content []byte) (string, bool) {
	procs, err := processes(content)
	if err != nil {
		return "", false
	}
	for i := len(procs) - 1; i >= 0; i-- {
		if procs[i].named {
			return procs[i].name, true
		}
	}
	return "", false
}
