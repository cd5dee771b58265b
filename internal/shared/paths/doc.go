// Package paths pins the on-disk layout under the orchestrator's data root.
//
// Every component resolves directories through a Layout so the whole tree
// hangs off one configurable root and no package invents its own location.
//
// # Directory Structure
//
//	<root>/
//	  ├── apps/<name>/
//	  │     ├── repo/       (pristine git checkout)
//	  │     ├── working/    (mirrored tree the app runs from, holds .venv)
//	  │     └── app.json    (persisted app state)
//	  ├── env/python/<ver>/ (shared runtime cache)
//	  ├── cache/pip/        (pip cache when configured)
//	  ├── config/           (app_config.json)
//	  └── logs/             (orchestrator logs)
//
// # Usage
//
//	layout := paths.New(cfg.DataDir)
//	app := layout.App("demo")
//	repo := app.Repo()        // <root>/apps/demo/repo
//	python := app.VenvPython()
package paths
