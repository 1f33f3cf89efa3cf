package mcp

import (
	"encoding/json"
	"fmt"
)

// Content types.
const (
	ContentText     = "text"
	ContentImage    = "image"
	ContentAudio    = "audio"
	ContentResource = "resource"
)

// Content is a tagged content block. Type selects which fields are
// meaningful: Text for "text", Data and MIMEType for "image" and "audio",
// Resource for "resource".
type Content struct {
	Type        string
	Text        string
	Data        string
	MIMEType    string
	Resource    *ResourceContents
	Annotations json.RawMessage
}

// TextContent returns a text block.
func TextContent(text string) Content {
	return Content{Type: ContentText, Text: text}
}

// ImageContent returns a base64 image block.
func ImageContent(data, mimeType string) Content {
	return Content{Type: ContentImage, Data: data, MIMEType: mimeType}
}

// AudioContent returns a base64 audio block.
func AudioContent(data, mimeType string) Content {
	return Content{Type: ContentAudio, Data: data, MIMEType: mimeType}
}

// EmbeddedResource returns a resource block.
func EmbeddedResource(r ResourceContents) Content {
	return Content{Type: ContentResource, Resource: &r}
}

type textContentJSON struct {
	Type        string          `json:"type"`
	Text        string          `json:"text"`
	Annotations json.RawMessage `json:"annotations,omitempty"`
}

type binaryContentJSON struct {
	Type        string          `json:"type"`
	Data        string          `json:"data"`
	MIMEType    string          `json:"mimeType"`
	Annotations json.RawMessage `json:"annotations,omitempty"`
}

type resourceContentJSON struct {
	Type        string            `json:"type"`
	Resource    *ResourceContents `json:"resource"`
	Annotations json.RawMessage   `json:"annotations,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c Content) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case ContentText:
		return json.Marshal(textContentJSON{Type: c.Type, Text: c.Text, Annotations: c.Annotations})
	case ContentImage, ContentAudio:
		return json.Marshal(binaryContentJSON{Type: c.Type, Data: c.Data, MIMEType: c.MIMEType, Annotations: c.Annotations})
	case ContentResource:
		if c.Resource == nil {
			return nil, fmt.Errorf("resource content without resource")
		}
		return json.Marshal(resourceContentJSON{Type: c.Type, Resource: c.Resource, Annotations: c.Annotations})
	default:
		return nil, fmt.Errorf("unknown content type %q", c.Type)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Content) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type        string            `json:"type"`
		Text        string            `json:"text"`
		Data        string            `json:"data"`
		MIMEType    string            `json:"mimeType"`
		Resource    *ResourceContents `json:"resource"`
		Annotations json.RawMessage   `json:"annotations"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	*c = Content{Type: probe.Type, Annotations: probe.Annotations}
	switch probe.Type {
	case ContentText:
		c.Text = probe.Text
	case ContentImage, ContentAudio:
		c.Data = probe.Data
		c.MIMEType = probe.MIMEType
	case ContentResource:
		if probe.Resource == nil {
			return fmt.Errorf("resource content without resource")
		}
		c.Resource = probe.Resource
	default:
		return fmt.Errorf("unknown content type %q", probe.Type)
	}
	return nil
}

// ResourceContents is either text or base64 blob contents of a resource.
// Blob wins when both are set.
type ResourceContents struct {
	URI      string
	MIMEType string
	Text     string
	Blob     string
}

// IsBlob reports whether the contents are binary.
func (r ResourceContents) IsBlob() bool { return r.Blob != "" }

type textResourceJSON struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

type blobResourceJSON struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Blob     string `json:"blob"`
}

// MarshalJSON implements json.Marshaler.
func (r ResourceContents) MarshalJSON() ([]byte, error) {
	if r.IsBlob() {
		return json.Marshal(blobResourceJSON{URI: r.URI, MIMEType: r.MIMEType, Blob: r.Blob})
	}
	return json.Marshal(textResourceJSON{URI: r.URI, MIMEType: r.MIMEType, Text: r.Text})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *ResourceContents) UnmarshalJSON(data []byte) error {
	var probe struct {
		URI      string  `json:"uri"`
		MIMEType string  `json:"mimeType"`
		Text     *string `json:"text"`
		Blob     *string `json:"blob"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Text == nil && probe.Blob == nil {
		return fmt.Errorf("resource contents for %q carry neither text nor blob", probe.URI)
	}
	*r = ResourceContents{URI: probe.URI, MIMEType: probe.MIMEType}
	if probe.Blob != nil {
		r.Blob = *probe.Blob
	} else {
		r.Text = *probe.Text
	}
	return nil
}
