// Package psd2img exports the elements of a layered image document (slices,
// groups, raster and text layers) as multi-scale PNG assets plus a catalog of
// their positions and sizes, while keeping the process within a memory budget.
//
// # Quick Start
//
// Open a document through an Opener, then process a project:
//
//	proc := psd2img.NewProcessor(
//	    psd2img.WithOpener(manifest.Opener{}),
//	    psd2img.WithLogger(logger),
//	)
//
//	summary, err := proc.Process(ctx, &psd2img.Project{
//	    ID:         "poster",
//	    SourcePath: "poster.yaml",
//	    OutputDir:  "public",
//	    Scales:     []string{"1x", "2x"},
//	    Mode:       psd2img.ModeStandard,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(len(summary.Records), "assets")
//
// Assets are written under <OutputDir>/processed/<project-id>/, next to a
// full_preview.png of the flattened canvas.
//
// # Pipeline
//
// Processing follows these stages:
//
//  1. Collection: the layer tree is walked depth-first into tasks
//  2. Scheduling: slices first, then text, then layers without text, then layers with text
//  3. Queueing: a bounded queue with admission backpressure and zombie detection
//  4. Rendering: N workers clip each raster to the canvas, optionally trim it,
//     and write it at every requested scale
//  5. Supervision: a memory guard throttles, recovers or aborts under pressure
//
// # Documents
//
// The decoder is external. Any type implementing Document can be processed;
// internal/manifest provides one backed by YAML manifests.
//
// # Cancellation
//
// Cancelling the context passed to Process stops every worker at its next
// check point. In-flight renders are abandoned, not rolled back.
package psd2img
