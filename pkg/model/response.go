package model

import "strings"

type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ResponsePart is one segment of an outgoing conversational response
type ResponsePart struct {
	Type PartType
	Text string
}

// Response is an outgoing conversational response observed by the reactive dispatcher
type Response struct {
	Parts []ResponsePart
}

// NewTextResponse builds a response with a single text part
func NewTextResponse(text string) *Response {
	return &Response{Parts: []ResponsePart{{Type: PartText, Text: text}}}
}

// PlainText concatenates the text parts
func (r *Response) PlainText() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}
