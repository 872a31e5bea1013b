// Package harness runs scripted dispatch-loop scenarios and compares their
// traces against golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	task_batch_size: 2            # optional, default task.DefaultBatchSize
//	steps:
//	  - op: connect
//	    signal: value_changed
//	    slot: direct
//	    type: direct              # auto | direct | queued
//	  - op: emit
//	    signal: value_changed
//	    value: 42
//	  - op: process
//	assertions:
//	  - type: trace_contains
//	    line: "slot direct <- 42"
//	  - type: trace_order
//	    lines: ["slot direct <- 42", "slot queued <- 42"]
//	  - type: trace_count
//	    prefix: "slot "
//	    count: 2
//
// # Step Ops
//
//   - connect: connect slot to signal with the given connection type
//   - emit: emit value on signal
//   - post_event: post a Custom event with the given name
//   - post_task, cancel_task: post or cancel a deferred task by label
//   - start_timer, stop_timer: start (after_ms, repeat) or stop a timer by label
//   - schedule_task, cancel_scheduled: schedule (after_ms, repeat) or cancel a scheduler task by label
//   - advance_ms: advance the manual clock by ms
//   - process: run one loop iteration
//   - process_tasks, process_all_tasks: run one task batch, or drain the task queue
//   - quit: request loop exit
//
// Blocking connections are rejected: a scenario runs on one goroutine, which
// is also the dispatch goroutine.
//
// # Deterministic Testing
//
// Every scenario runs on a fresh dispatch.Application with a
// testutil.ManualClock and a fixed application id. Nothing reads the wall
// clock, so traces are identical across runs.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/queued_delivery.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if !result.Pass {
//	    for _, err := range result.Errors {
//	        log.Println(err)
//	    }
//	}
package harness
