// Package sspark defines the public data model and collaborator
// interfaces for the SSpark stage-oriented DAG scheduler: lazy
// partitioned Datasets with typed parent dependencies, tasks and task
// sets, task end reasons, and the interfaces of the lower-level task
// scheduler, map-output tracker, block manager and listener bus that
// the scheduler drives. The scheduler itself lives in internal/dag and
// is constructed via the driver package.
package sspark
