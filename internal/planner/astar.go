package planner

import (
	"container/heap"
	"math"
)

// Cell is an integer grid coordinate.
type Cell struct {
	X, Y int
}

// Grid is the input to PlanAStar: dimensions and a blocked-cell set.
type Grid struct {
	Width, Height int
	Blocked       map[Cell]bool
}

// InBounds reports whether c lies within the grid.
func (g *Grid) InBounds(c Cell) bool {
	return c.X >= 0 && c.X < g.Width && c.Y >= 0 && c.Y < g.Height
}

// IsBlocked reports whether c is an obstacle.
func (g *Grid) IsBlocked(c Cell) bool {
	return g.Blocked != nil && g.Blocked[c]
}

var neighborOffsets = [8]Cell{
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
	{1, 1}, {1, -1}, {-1, 1}, {-1, -1},
}

func isDiagonal(d Cell) bool { return d.X != 0 && d.Y != 0 }

// PlanAStar finds the lowest-cost 8-connected path from start to goal on
// grid, allowing diagonal movement only when both flanking cardinal cells
// are free (no corner-cutting through obstacles). Returns the path
// (inclusive of start and goal) and true, or (nil, false) if unreachable.
func PlanAStar(grid *Grid, start, goal Cell) ([]Cell, bool) {
	if !grid.InBounds(start) || !grid.InBounds(goal) || grid.IsBlocked(start) || grid.IsBlocked(goal) {
		return nil, false
	}
	if start == goal {
		return []Cell{start}, true
	}

	open := &openHeap{}
	heap.Init(open)
	heap.Push(open, &node{cell: start, g: 0, f: heuristic(start, goal)})

	gScore := map[Cell]float64{start: 0}
	cameFrom := map[Cell]Cell{}
	closed := map[Cell]bool{}
	// seq guarantees a deterministic, insertion-order tie-break when f
	// and g both tie, since Go map iteration order is randomized but we
	// never iterate maps for ordering decisions here.
	var seq int

	for open.Len() > 0 {
		cur := heap.Pop(open).(*node)
		if closed[cur.cell] {
			continue
		}
		if cur.cell == goal {
			return reconstruct(cameFrom, start, goal), true
		}
		closed[cur.cell] = true

		for _, off := range neighborOffsets {
			next := Cell{cur.cell.X + off.X, cur.cell.Y + off.Y}
			if !grid.InBounds(next) || grid.IsBlocked(next) || closed[next] {
				continue
			}
			if isDiagonal(off) {
				cardinal1 := Cell{cur.cell.X + off.X, cur.cell.Y}
				cardinal2 := Cell{cur.cell.X, cur.cell.Y + off.Y}
				if grid.IsBlocked(cardinal1) || grid.IsBlocked(cardinal2) {
					continue
				}
			}
			stepCost := 1.0
			if isDiagonal(off) {
				stepCost = math.Sqrt2
			}
			tentativeG := gScore[cur.cell] + stepCost
			if existing, ok := gScore[next]; ok && tentativeG >= existing {
				continue
			}
			gScore[next] = tentativeG
			cameFrom[next] = cur.cell
			seq++
			heap.Push(open, &node{cell: next, g: tentativeG, f: tentativeG + heuristic(next, goal), seq: seq})
		}
	}
	return nil, false
}

func heuristic(a, b Cell) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

func reconstruct(cameFrom map[Cell]Cell, start, goal Cell) []Cell {
	path := []Cell{goal}
	cur := goal
	for cur != start {
		cur = cameFrom[cur]
		path = append(path, cur)
	}
	// reverse in place
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

type node struct {
	cell Cell
	g, f float64
	seq  int
}

// openHeap is a binary min-heap keyed by f, breaking ties by larger g
// (favouring cells closer to the goal) and then by insertion order so
// that two fully-tied candidates still pop in a deterministic sequence.
type openHeap []*node

func (h openHeap) Len() int { return len(h) }
func (h openHeap) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	if h[i].g != h[j].g {
		return h[i].g > h[j].g
	}
	return h[i].seq < h[j].seq
}
func (h openHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *openHeap) Push(x any)   { *h = append(*h, x.(*node)) }
func (h *openHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
