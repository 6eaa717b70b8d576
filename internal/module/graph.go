package module

// Graph tracks module relationships for cycle detection and initialization
// ordering. Nodes keep insertion order so the resulting order follows the
// order in which modules were declared.
type Graph struct {
	nodes    map[string]struct{}
	order    []string
	outgoing map[string][]string
	incoming map[string]map[string]struct{}
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]struct{}),
		outgoing: make(map[string][]string),
		incoming: make(map[string]map[string]struct{}),
	}
}

// AddNode ensures the module exists within the graph.
func (g *Graph) AddNode(name string) {
	if _, exists := g.nodes[name]; exists {
		return
	}
	g.nodes[name] = struct{}{}
	g.order = append(g.order, name)
	g.incoming[name] = make(map[string]struct{})
}

// AddEdge records that dependent requires dependency.
func (g *Graph) AddEdge(dependent, dependency string) {
	g.AddNode(dependent)
	g.AddNode(dependency)

	if _, exists := g.incoming[dependency][dependent]; exists {
		return
	}
	g.outgoing[dependent] = append(g.outgoing[dependent], dependency)
	g.incoming[dependency][dependent] = struct{}{}
}

// HasNode reports if the node exists in the graph.
func (g *Graph) HasNode(name string) bool {
	if g == nil {
		return false
	}
	_, ok := g.nodes[name]
	return ok
}

// Dependencies returns the direct dependencies of name in declaration order.
func (g *Graph) Dependencies(name string) []string {
	return append([]string(nil), g.outgoing[name]...)
}

// Dependents returns how many modules depend directly on name.
func (g *Graph) Dependents(name string) int {
	return len(g.incoming[name])
}

// DetectCycle returns the modules forming one cycle, or nil when the graph is
// acyclic.
func (g *Graph) DetectCycle() []string {
	visited := make(map[string]bool)
	stack := make(map[string]bool)
	path := []string{}

	var cycle []string
	var dfs func(node string) bool

	dfs = func(node string) bool {
		visited[node] = true
		stack[node] = true
		path = append(path, node)

		for _, dependency := range g.outgoing[node] {
			if !visited[dependency] {
				if dfs(dependency) {
					return true
				}
			} else if stack[dependency] {
				idx := len(path) - 1
				for idx >= 0 && path[idx] != dependency {
					idx--
				}
				if idx >= 0 {
					cycle = append([]string{}, path[idx:]...)
					return true
				}
			}
		}

		stack[node] = false
		path = path[:len(path)-1]
		return false
	}

	for _, node := range g.order {
		if !visited[node] {
			if dfs(node) {
				break
			}
		}
	}

	return cycle
}

// Order returns every node with dependencies before dependents. Ties follow
// declaration order (depth-first post-order). Callers must check DetectCycle
// first; nodes on a cycle are emitted once, in visit order.
func (g *Graph) Order() []string {
	visited := make(map[string]bool, len(g.nodes))
	result := make([]string, 0, len(g.nodes))

	var visit func(node string)
	visit = func(node string) {
		if visited[node] {
			return
		}
		visited[node] = true
		for _, dependency := range g.outgoing[node] {
			visit(dependency)
		}
		result = append(result, node)
	}

	for _, node := range g.order {
		visit(node)
	}
	return result
}
