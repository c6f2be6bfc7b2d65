package dag

import (
	sspark "github.com/arcs-skku/SSpark"
)

// Lineage traversals over the dataset graph. All walks use an explicit
// stack so arbitrarily deep graphs cannot overflow the goroutine stack.

// shuffleDependenciesImmediate returns the shuffle dependencies crossed
// when walking narrow edges from rdd, stopping descent at each shuffle
// edge. These are the parent-stage boundaries of the stage rooted at
// rdd.
func shuffleDependenciesImmediate(rdd *sspark.Dataset) []*sspark.ShuffleDependency {
	var deps []*sspark.ShuffleDependency
	visited := make(map[int]struct{})
	stack := []*sspark.Dataset{rdd}
	for len(stack) > 0 {
		ds := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[ds.ID()]; ok {
			continue
		}
		visited[ds.ID()] = struct{}{}
		for _, dep := range ds.Dependencies() {
			if shuffleDep, ok := dep.(*sspark.ShuffleDependency); ok {
				deps = append(deps, shuffleDep)
			} else {
				stack = append(stack, dep.Parent())
			}
		}
	}
	return deps
}

// traverseWithinStageAll reports whether pred holds for every dataset
// reachable from rdd over narrow edges, short-circuiting on the first
// failure
func traverseWithinStageAll(rdd *sspark.Dataset, pred func(*sspark.Dataset) bool) bool {
	visited := make(map[int]struct{})
	stack := []*sspark.Dataset{rdd}
	for len(stack) > 0 {
		ds := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[ds.ID()]; ok {
			continue
		}
		visited[ds.ID()] = struct{}{}
		if !pred(ds) {
			return false
		}
		for _, dep := range ds.Dependencies() {
			if _, ok := dep.(*sspark.ShuffleDependency); !ok {
				stack = append(stack, dep.Parent())
			}
		}
	}
	return true
}

// stageContainsBarrier reports whether any dataset inside the stage
// rooted at rdd requires gang scheduling
func stageContainsBarrier(rdd *sspark.Dataset) bool {
	return !traverseWithinStageAll(rdd, func(ds *sspark.Dataset) bool {
		return !ds.Barrier()
	})
}

// missingAncestorShuffles returns the transitively reachable shuffle
// dependencies whose producing stage is not registered yet, deepest
// first, so ancestors are created before their children.
func (s *Scheduler) missingAncestorShuffles(rdd *sspark.Dataset) []*sspark.ShuffleDependency {
	var ancestors []*sspark.ShuffleDependency
	visited := make(map[int]struct{})
	stack := []*sspark.Dataset{rdd}
	for len(stack) > 0 {
		ds := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[ds.ID()]; ok {
			continue
		}
		visited[ds.ID()] = struct{}{}
		for _, dep := range shuffleDependenciesImmediate(ds) {
			if _, ok := s.shuffleIDToMapStage[dep.ShuffleID()]; !ok {
				ancestors = append(ancestors, dep)
				stack = append(stack, dep.Parent())
			}
		}
	}
	// discovery order is nearest-first; creation wants deepest-first
	for i, j := 0, len(ancestors)-1; i < j; i, j = i+1, j-1 {
		ancestors[i], ancestors[j] = ancestors[j], ancestors[i]
	}
	return ancestors
}

// missingParentStages returns the parent stages of st whose outputs
// are not yet available. Subgraphs whose partitions are all cached are
// not descended into.
func (s *Scheduler) missingParentStages(st stage) ([]stage, error) {
	missing := make(map[stage]struct{})
	visited := make(map[int]struct{})
	stack := []*sspark.Dataset{st.core().rdd}
	for len(stack) > 0 {
		ds := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[ds.ID()]; ok {
			continue
		}
		visited[ds.ID()] = struct{}{}
		if s.cacheLocs.fullyCached(ds) {
			continue
		}
		for _, dep := range ds.Dependencies() {
			switch d := dep.(type) {
			case *sspark.ShuffleDependency:
				mapStage, err := s.getOrCreateShuffleMapStage(d, st.core().firstJobID)
				if err != nil {
					return nil, err
				}
				if !mapStage.isAvailable() {
					missing[mapStage] = struct{}{}
				}
			default:
				stack = append(stack, dep.Parent())
			}
		}
	}
	out := make([]stage, 0, len(missing))
	for m := range missing {
		out = append(out, m)
	}
	return out, nil
}

type datasetPartition struct {
	datasetID int
	partition int
}

// preferredLocations computes placement hints for one partition of a
// dataset: cached locations first, then declared placement preferences,
// then hints inherited through narrow dependencies. Safe to call from
// outside the event loop.
func (s *Scheduler) preferredLocations(rdd *sspark.Dataset, partition int) []sspark.TaskLocation {
	return s.preferredLocationsInternal(rdd, partition, make(map[datasetPartition]struct{}))
}

func (s *Scheduler) preferredLocationsInternal(rdd *sspark.Dataset, partition int, visited map[datasetPartition]struct{}) []sspark.TaskLocation {
	key := datasetPartition{datasetID: rdd.ID(), partition: partition}
	if _, ok := visited[key]; ok {
		// partition already considered on this path
		return nil
	}
	visited[key] = struct{}{}
	if cached := s.cacheLocs.get(rdd); partition < len(cached) && len(cached[partition]) > 0 {
		return cached[partition]
	}
	if hints := rdd.PreferredLocations(partition); len(hints) > 0 {
		locs := make([]sspark.TaskLocation, len(hints))
		for i, hint := range hints {
			locs[i] = sspark.ParseTaskLocation(hint)
		}
		return locs
	}
	for _, dep := range rdd.Dependencies() {
		narrow, ok := dep.(*sspark.NarrowDependency)
		if !ok {
			continue
		}
		for _, parentPartition := range narrow.ParentPartitions(partition) {
			if locs := s.preferredLocationsInternal(narrow.Parent(), parentPartition, visited); len(locs) > 0 {
				return locs
			}
		}
	}
	return nil
}

// stageDependsOn reports whether st transitively depends on target
// through the stage graph
func stageDependsOn(st, target stage) bool {
	if st == target {
		return true
	}
	visited := make(map[int]struct{})
	stack := []stage{st}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[cur.core().id]; ok {
			continue
		}
		visited[cur.core().id] = struct{}{}
		for _, parent := range cur.core().parents {
			if parent == target {
				return true
			}
			stack = append(stack, parent)
		}
	}
	return false
}
