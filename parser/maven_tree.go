package parser

import (
	"fmt"
	"regexp"

	"github.com/ortelius/vulnlsp/model"
)

type treeState int

const (
	lookingForStart treeState = iota
	accumulatingEdges
	finished
)

var (
	digraphHeader = regexp.MustCompile(`^(?:\[INFO\])?\s*digraph\s+"([^"]+)"\s*\{`)
	digraphEdge   = regexp.MustCompile(`^(?:\[INFO\])?\s*"([^"]+)"\s*->\s*"([^"]+)"\s*;?\s*$`)
)

type edge struct {
	parent model.Purl
	child  model.Purl
}

// mavenTree is the first digraph found in dependency:tree output
type mavenTree struct {
	app   model.Purl
	edges []edge
}

// scanMavenTree runs the digraph scanner. Output that ends while edges are still being
// accumulated counts as finished; output without a digraph header is an error.
func scanMavenTree(output string) (mavenTree, error) {
	var tree mavenTree
	state := lookingForStart

	for _, line := range splitLines(output) {
		switch state {
		case lookingForStart:
			header := digraphHeader.FindStringSubmatch(line)
			if header == nil {
				continue
			}
			app, err := mavenCoordinate(header[1])
			if err != nil {
				return tree, fmt.Errorf("digraph header: %w", err)
			}
			tree.app = app
			state = accumulatingEdges

		case accumulatingEdges:
			match := digraphEdge.FindStringSubmatch(line)
			if match == nil {
				state = finished
				continue
			}
			parent, err := mavenCoordinate(match[1])
			if err != nil {
				return tree, fmt.Errorf("digraph edge: %w", err)
			}
			child, err := mavenCoordinate(match[2])
			if err != nil {
				return tree, fmt.Errorf("digraph edge: %w", err)
			}
			tree.edges = append(tree.edges, edge{parent: parent, child: child})
		}

		if state == finished {
			break
		}
	}

	if state == lookingForStart {
		return tree, fmt.Errorf("no dependency digraph found in build output")
	}
	return tree, nil
}

// parseMavenTree maps every child of the application node to its transitive closure
func parseMavenTree(output string) (model.BuildDependencies, error) {
	tree, err := scanMavenTree(output)
	if err != nil {
		return nil, err
	}

	children := make(map[model.Purl][]model.Purl)
	for _, e := range tree.edges {
		children[e.parent] = append(children[e.parent], e.child)
	}

	deps := make(model.BuildDependencies)
	for _, direct := range children[tree.app] {
		visited := make(map[model.Purl]bool)
		deps[direct] = descendants(direct, children, visited, nil)
	}
	return deps, nil
}

// descendants collects node and everything below it; visited guards against cycles
func descendants(node model.Purl, children map[model.Purl][]model.Purl, visited map[model.Purl]bool, acc []model.Purl) []model.Purl {
	if visited[node] {
		return acc
	}
	visited[node] = true
	acc = append(acc, node)

	for _, child := range children[node] {
		acc = descendants(child, children, visited, acc)
	}
	return acc
}
