package parser

import (
	"encoding/json"
	"fmt"

	"github.com/ortelius/vulnlsp/model"
)

// cargoMetadata is the subset of `cargo metadata --format-version 1` output used to build closures
type cargoMetadata struct {
	Packages []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		ID      string `json:"id"`
	} `json:"packages"`
	WorkspaceMembers []string `json:"workspace_members"`
	Resolve          *struct {
		Root  *string `json:"root"`
		Nodes []struct {
			ID           string   `json:"id"`
			Dependencies []string `json:"dependencies"`
		} `json:"nodes"`
	} `json:"resolve"`
}

// parseCargoMetadata maps every direct dependency of the root package (or of every
// workspace member for a virtual manifest) to its transitive closure
func parseCargoMetadata(output []byte) (model.BuildDependencies, error) {
	var metadata cargoMetadata
	if err := json.Unmarshal(output, &metadata); err != nil {
		return nil, fmt.Errorf("decode cargo metadata: %w", err)
	}
	if metadata.Resolve == nil {
		return nil, fmt.Errorf("cargo metadata has no resolve graph")
	}

	purls := make(map[string]model.Purl, len(metadata.Packages))
	for _, pkg := range metadata.Packages {
		purls[pkg.ID] = model.NewPurl(CargoEcosystem, "", pkg.Name, pkg.Version, "")
	}

	adjacency := make(map[string][]string, len(metadata.Resolve.Nodes))
	for _, node := range metadata.Resolve.Nodes {
		adjacency[node.ID] = node.Dependencies
	}

	roots := metadata.WorkspaceMembers
	if metadata.Resolve.Root != nil {
		roots = []string{*metadata.Resolve.Root}
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("cargo metadata has no root package")
	}

	deps := make(model.BuildDependencies)
	for _, root := range roots {
		if _, ok := adjacency[root]; !ok {
			return nil, fmt.Errorf("root %q missing from resolve graph", root)
		}

		for _, direct := range adjacency[root] {
			directPurl, ok := purls[direct]
			if !ok {
				return nil, fmt.Errorf("package %q missing from package table", direct)
			}
			if _, done := deps[directPurl]; done {
				continue
			}

			closure := make([]model.Purl, 0)
			for _, id := range reachable(direct, adjacency) {
				p, ok := purls[id]
				if !ok {
					return nil, fmt.Errorf("package %q missing from package table", id)
				}
				closure = append(closure, p)
			}
			deps[directPurl] = closure
		}
	}

	return deps, nil
}

// reachable walks the graph depth first from start in preorder. Every node is expanded
// once, so cycles terminate; start is always the first element.
func reachable(start string, adjacency map[string][]string) []string {
	visited := make(map[string]bool)
	var order []string
	stack := []string{start}

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[node] {
			continue
		}
		visited[node] = true
		order = append(order, node)

		children := adjacency[node]
		for i := len(children) - 1; i >= 0; i-- {
			if !visited[children[i]] {
				stack = append(stack, children[i])
			}
		}
	}

	return order
}
