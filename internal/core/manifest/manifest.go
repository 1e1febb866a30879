// Package manifest contains pure functions for rewriting Kubernetes
// manifests before they are applied: stamping the target namespace and
// retagging the dashboard image to the release's registry reference.
// Documents are edited as yaml.Node trees so field order and comments in
// the source files survive the rewrite.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrEmptyManifest   = errors.New("manifest stream is empty")
	ErrInvalidManifest = errors.New("invalid manifest YAML")
)

// =============================================================================
// Documents
// =============================================================================

// Document is a single Kubernetes object parsed from a manifest stream.
type Document struct {
	root *yaml.Node
}

// clusterScopedKinds lists object kinds that never take a namespace.
var clusterScopedKinds = map[string]bool{
	"Namespace":                true,
	"ClusterRole":              true,
	"ClusterRoleBinding":       true,
	"CustomResourceDefinition": true,
	"PersistentVolume":         true,
	"StorageClass":             true,
}

// Split decodes a multi-document YAML stream into individual documents.
// Empty documents between separators are dropped.
func Split(data []byte) ([]*Document, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))

	var docs []*Document
	for {
		var node yaml.Node
		err := decoder.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
		if node.Kind == 0 || len(node.Content) == 0 {
			continue
		}
		docs = append(docs, &Document{root: &node})
	}

	if len(docs) == 0 {
		return nil, ErrEmptyManifest
	}
	return docs, nil
}

// Kind returns the object kind, or "" when absent.
func (d *Document) Kind() string {
	return scalarValue(mappingValue(d.body(), "kind"))
}

// Name returns metadata.name, or "" when absent.
func (d *Document) Name() string {
	return scalarValue(mappingValue(mappingValue(d.body(), "metadata"), "name"))
}

// Namespace returns metadata.namespace, or "" when absent.
func (d *Document) Namespace() string {
	return scalarValue(mappingValue(mappingValue(d.body(), "metadata"), "namespace"))
}

// ClusterScoped reports whether the object kind never takes a namespace.
func (d *Document) ClusterScoped() bool {
	return clusterScopedKinds[d.Kind()]
}

// SetNamespace stamps metadata.namespace, overwriting any value already
// present. Cluster-scoped objects are left untouched.
func (d *Document) SetNamespace(namespace string) {
	if d.ClusterScoped() {
		return
	}

	body := d.body()
	if body == nil || body.Kind != yaml.MappingNode {
		return
	}

	metadata := mappingValue(body, "metadata")
	if metadata == nil {
		metadata = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		appendMapping(body, "metadata", metadata)
	}

	existing := mappingValue(metadata, "namespace")
	if existing != nil {
		existing.SetString(namespace)
		return
	}
	value := &yaml.Node{}
	value.SetString(namespace)
	appendMapping(metadata, "namespace", value)
}

// RetagImages replaces every image field whose repository matches the given
// repository name with the full image reference. Registry host and tag in
// the existing value are ignored for matching, so manifests checked in with
// a placeholder registry still pick up the release image. Returns the number
// of fields rewritten.
func (d *Document) RetagImages(repository, image string) int {
	return retagNode(d.body(), repository, image)
}

// retagNode walks the node tree looking for image fields to rewrite.
func retagNode(node *yaml.Node, repository, image string) int {
	if node == nil {
		return 0
	}

	count := 0
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if key.Value == "image" && value.Kind == yaml.ScalarNode && matchesRepository(value.Value, repository) {
				value.SetString(image)
				count++
				continue
			}
			count += retagNode(value, repository, image)
		}
	case yaml.SequenceNode:
		for _, child := range node.Content {
			count += retagNode(child, repository, image)
		}
	}
	return count
}

// matchesRepository reports whether an image reference points at the given
// repository, ignoring registry host, tag, and digest.
func matchesRepository(ref, repository string) bool {
	name := ref
	if i := strings.Index(name, "@"); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndex(name, ":"); i > strings.LastIndex(name, "/") {
		name = name[:i]
	}
	// A first path segment with a dot, colon, or "localhost" is a registry host.
	if i := strings.Index(name, "/"); i >= 0 {
		host := name[:i]
		if strings.ContainsAny(host, ".:") || host == "localhost" {
			name = name[i+1:]
		}
	}
	return name == repository
}

// =============================================================================
// Rendering
// =============================================================================

// Render serializes documents back into a single multi-document stream.
func Render(docs []*Document) ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)

	for _, doc := range docs {
		if err := encoder.Encode(doc.root); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return buf.Bytes(), nil
}

// =============================================================================
// Preparation
// =============================================================================

// Prepare rewrites a manifest stream for a release: every namespaced object
// gets the target namespace and every matching image field gets the release
// image reference. Returns the rewritten stream and the number of images
// retagged.
func Prepare(data []byte, namespace, repository, image string) ([]byte, int, error) {
	docs, err := Split(data)
	if err != nil {
		return nil, 0, err
	}

	retagged := 0
	for _, doc := range docs {
		doc.SetNamespace(namespace)
		retagged += doc.RetagImages(repository, image)
	}

	out, err := Render(docs)
	if err != nil {
		return nil, 0, err
	}
	return out, retagged, nil
}

// =============================================================================
// Node Helpers
// =============================================================================

// body returns the mapping node of the document.
func (d *Document) body() *yaml.Node {
	if d.root == nil {
		return nil
	}
	if d.root.Kind == yaml.DocumentNode && len(d.root.Content) > 0 {
		return d.root.Content[0]
	}
	return d.root
}

// scalarValue returns the string value of a scalar node, or "" for nil or
// non-scalar nodes.
func scalarValue(node *yaml.Node) string {
	if node == nil || node.Kind != yaml.ScalarNode {
		return ""
	}
	return node.Value
}

// mappingValue returns the value node for a key in a mapping, or nil.
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// appendMapping appends a key/value pair to a mapping node.
func appendMapping(node *yaml.Node, key string, value *yaml.Node) {
	keyNode := &yaml.Node{}
	keyNode.SetString(key)
	node.Content = append(node.Content, keyNode, value)
}
