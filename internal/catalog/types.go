package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AssetType is the coarse media type reported by the catalog.
type AssetType string

const (
	AssetImage AssetType = "IMAGE"
	AssetVideo AssetType = "VIDEO"
	AssetAudio AssetType = "AUDIO"
	AssetOther AssetType = "OTHER"
)

// ParseAssetType normalizes s into a known AssetType.
func ParseAssetType(s string) (AssetType, error) {
	switch t := AssetType(strings.ToUpper(strings.TrimSpace(s))); t {
	case AssetImage, AssetVideo, AssetAudio, AssetOther:
		return t, nil
	default:
		return "", fmt.Errorf("unknown asset type %q", s)
	}
}

// Asset is one media item. Immutable once decoded.
type Asset struct {
	ID       string
	Filename string
	Type     AssetType
}

func (a Asset) String() string { return fmt.Sprintf("Asset(%s, %q)", a.Type, a.ID) }

// Tag is a catalog label. FullName is the slash separated path of the tag in
// the tag tree (Immich calls it "value").
type Tag struct {
	ID       string
	Name     string
	FullName string
	ParentID string // empty for root tags
}

func (t Tag) String() string { return fmt.Sprintf("Tag(%q, %q)", t.FullName, t.ID) }

type assetPayload struct {
	ID               *string `json:"id"`
	OriginalFileName *string `json:"originalFileName"`
	Type             *string `json:"type"`
}

type tagPayload struct {
	ID       *string `json:"id"`
	Name     *string `json:"name"`
	Value    *string `json:"value"`
	ParentID *string `json:"parentId"`
}

type validatePayload struct {
	AuthStatus *bool `json:"authStatus"`
}

func decodeAssets(endpoint string, b []byte) ([]Asset, error) {
	var raw []assetPayload
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, &MalformedResponseError{Endpoint: endpoint, Index: -1, Err: err}
	}
	out := make([]Asset, 0, len(raw))
	for i, p := range raw {
		switch {
		case p.ID == nil || *p.ID == "":
			return nil, &MalformedResponseError{Endpoint: endpoint, Index: i, Field: "id"}
		case p.OriginalFileName == nil:
			return nil, &MalformedResponseError{Endpoint: endpoint, Index: i, Field: "originalFileName"}
		case p.Type == nil:
			return nil, &MalformedResponseError{Endpoint: endpoint, Index: i, Field: "type"}
		}
		typ, err := ParseAssetType(*p.Type)
		if err != nil {
			return nil, &MalformedResponseError{Endpoint: endpoint, Index: i, Field: "type", Err: err}
		}
		out = append(out, Asset{ID: *p.ID, Filename: *p.OriginalFileName, Type: typ})
	}
	return out, nil
}

func decodeTags(endpoint string, b []byte) ([]Tag, error) {
	var raw []tagPayload
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, &MalformedResponseError{Endpoint: endpoint, Index: -1, Err: err}
	}
	out := make([]Tag, 0, len(raw))
	for i, p := range raw {
		switch {
		case p.ID == nil || *p.ID == "":
			return nil, &MalformedResponseError{Endpoint: endpoint, Index: i, Field: "id"}
		case p.Name == nil:
			return nil, &MalformedResponseError{Endpoint: endpoint, Index: i, Field: "name"}
		case p.Value == nil:
			return nil, &MalformedResponseError{Endpoint: endpoint, Index: i, Field: "value"}
		}
		t := Tag{ID: *p.ID, Name: *p.Name, FullName: *p.Value}
		if p.ParentID != nil {
			t.ParentID = *p.ParentID
		}
		out = append(out, t)
	}
	return out, nil
}

// MatchTags returns every tag whose full name equals fullName exactly.
func MatchTags(tags []Tag, fullName string) []Tag {
	var out []Tag
	for _, t := range tags {
		if t.FullName == fullName {
			out = append(out, t)
		}
	}
	return out
}
