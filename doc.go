// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pipeflow implements the core data structures and (abstract)
// runtime for Pipeflow.
//
// Pipeflow is a system for orchestrating multimodal processing
// pipelines. A pipeline is described by a flow graph whose nodes are
// executor endpoints connected by dependency edges. Each node consumes
// the record sets produced by the nodes it depends on and produces a
// record set of its own; the scheduler dispatches nodes as their
// dependencies complete, uniformly across in-process and remote
// executors.
//
// Records carry payloads by reference (a resource URL), inline, or by
// content signature. Payloads named by signature are stored in and
// retrieved from content-addressed stores; see package store.
// Scheduling is described in package flow; dispatch in package
// dispatch.
package pipeflow
