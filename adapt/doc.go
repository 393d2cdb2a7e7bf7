// Copyright 2025 the Graft Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package adapt injects parameter-efficient adapters into module trees
// and manages their lifecycle.
//
// A Config describes which modules to adapt (by explicit name suffix,
// regex, or the all-linear shorthand) and what kind of adapter to
// attach (LoRA, IA3, prompt tuning). New walks the tree, wraps every
// targeted module in an adapter layer and returns a Model that owns
// activation, enabling, merging and deletion of adapters:
//
//	cfg := adapt.NewLoRAConfig()
//	cfg.Modules = []string{"fc1", "fc2"}
//	model, err := adapt.New[*cpu.Backend](base, cfg)
//	if err != nil {
//	    ...
//	}
//	out := model.Forward(x)
//
// Merging folds an adapter's delta into the base weights in place for
// inference at zero overhead; unmerging restores the pre-merge bytes
// exactly. GetLayerStatus and GetModelStatus report per-layer and
// aggregated adapter state, falling back to the "irregular" sentinel
// when layers disagree rather than guessing.
package adapt
