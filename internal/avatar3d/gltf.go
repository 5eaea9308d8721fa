package avatar3d

import (
	"fmt"
	"sort"

	"github.com/qmuntal/gltf"
)

// RigFromDocument lists the morph-target names (from each mesh's
// extras.targetNames) and bone names of a decoded glTF document. Bones are
// the skin joints when the document has skins, otherwise every named node.
func RigFromDocument(doc *gltf.Document) (blendShapes, bones []string, err error) {
	if doc == nil {
		return nil, nil, fmt.Errorf("nil gltf document")
	}

	shapeSet := make(map[string]struct{})
	for _, mesh := range doc.Meshes {
		extras, ok := mesh.Extras.(map[string]any)
		if !ok {
			continue
		}
		names, ok := extras["targetNames"].([]any)
		if !ok {
			continue
		}
		for _, n := range names {
			if s, ok := n.(string); ok && s != "" {
				shapeSet[s] = struct{}{}
			}
		}
	}

	boneSet := make(map[string]struct{})
	for _, skin := range doc.Skins {
		for _, j := range skin.Joints {
			idx := int(j)
			if idx >= 0 && idx < len(doc.Nodes) && doc.Nodes[idx].Name != "" {
				boneSet[doc.Nodes[idx].Name] = struct{}{}
			}
		}
	}
	if len(doc.Skins) == 0 {
		for _, node := range doc.Nodes {
			if node.Name != "" {
				boneSet[node.Name] = struct{}{}
			}
		}
	}

	return setToSorted(shapeSet), setToSorted(boneSet), nil
}

func setToSorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// LoadRig opens a .gltf/.glb file and returns an in-memory Avatar exposing
// its channels. Used by hosts; the animation core itself never reads files.
func LoadRig(path string) (*Avatar, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gltf: %w", err)
	}
	shapes, bones, err := RigFromDocument(doc)
	if err != nil {
		return nil, err
	}
	if len(shapes) == 0 {
		return nil, fmt.Errorf("no named morph targets in %s", path)
	}
	return NewAvatar(shapes, bones), nil
}
