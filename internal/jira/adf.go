package jira

import (
	"bytes"
	"encoding/json"
	"strings"
)

// adfNode is a node of the Atlassian Document Format.
type adfNode struct {
	Type    string                 `json:"type"`
	Version int                    `json:"version,omitempty"`
	Text    string                 `json:"text,omitempty"`
	Attrs   map[string]interface{} `json:"attrs,omitempty"`
	Marks   []adfMark              `json:"marks,omitempty"`
	Content []adfNode              `json:"content,omitempty"`
}

type adfMark struct {
	Type  string                 `json:"type"`
	Attrs map[string]interface{} `json:"attrs,omitempty"`
}

// adfValue holds a description that is either an ADF document or, on older
// instances, a plain string.
type adfValue struct {
	text string
}

func (v *adfValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &v.text)
	}
	var doc adfNode
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	v.text = flattenADF(doc)
	return nil
}

func (v *adfValue) String() string {
	if v == nil {
		return ""
	}
	return v.text
}

// flattenADF renders a document as plain text: one line per block, inline
// nodes concatenated, code blocks fenced so embedded JSON stays parseable.
func flattenADF(n adfNode) string {
	switch n.Type {
	case "text":
		return n.Text
	case "hardBreak":
		return "\n"
	case "paragraph", "heading":
		return flattenInline(n.Content)
	case "codeBlock":
		lang, _ := n.Attrs["language"].(string)
		return "```" + lang + "\n" + flattenInline(n.Content) + "\n```"
	default:
		parts := make([]string, 0, len(n.Content))
		for _, child := range n.Content {
			if s := flattenADF(child); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	}
}

func flattenInline(nodes []adfNode) string {
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(flattenADF(n))
	}
	return b.String()
}

// commentDocument builds a one-paragraph comment with an optional trailing link.
func commentDocument(text string, link *Link) adfNode {
	para := adfNode{Type: "paragraph", Content: []adfNode{{Type: "text", Text: text}}}
	if link != nil && link.Text != "" && link.URL != "" {
		if text != "" {
			para.Content = append(para.Content, adfNode{Type: "text", Text: " "})
		}
		para.Content = append(para.Content, adfNode{
			Type:  "text",
			Text:  link.Text,
			Marks: []adfMark{{Type: "link", Attrs: map[string]interface{}{"href": link.URL}}},
		})
	}
	if text == "" {
		para.Content = para.Content[1:]
	}
	return adfNode{Type: "doc", Version: 1, Content: []adfNode{para}}
}
