// ABOUTME: Help display for the stampede CLI with grouped flags and examples.
// ABOUTME: Provides printHelp for usage output and envStatus for API key detection.
package main

import (
	"fmt"
	"io"
	"os"
)

// printHelp writes a formatted help message to w.
func printHelp(w io.Writer, ver string) {
	fmt.Fprintf(w, "stampede %s - batch LLM pipeline runner\n", ver)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  stampede generate <data.csv|data.json> <prompt.txt> [<prompt2.txt> ...] [flags]")
	fmt.Fprintln(w, "  stampede generate <data.csv|data.json> -config pipeline.yaml [flags]")
	fmt.Fprintln(w, "  stampede version")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Each prompt template file is one pipeline step. Templates reference row")
	fmt.Fprintln(w, "columns as {{.column}}, the input index as {{._index}}, and prior step")
	fmt.Fprintln(w, "results as {{._history}}.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Model Flags:")
	fmt.Fprintln(w, "  -model <id>            Model id for all steps")
	fmt.Fprintln(w, "  -system <prompt>       System prompt for all steps")
	fmt.Fprintln(w, "  -schema <file>         JSON schema validating replies")
	fmt.Fprintln(w, "  -verify-command <cmd>  Shell command verifying replies (reply on stdin)")
	fmt.Fprintln(w, "  -candidates <n>        Parallel candidate generations per call")
	fmt.Fprintln(w, "  -judge-model <id>      Model judging candidates")
	fmt.Fprintln(w, "  -feedback-loops <n>    Critique-and-regenerate rounds")
	fmt.Fprintln(w, "  -aspect-ratio <r>      Aspect ratio instruction for image output")
	fmt.Fprintln(w, "  -max-retries <n>       Total model calls per validation loop (default: 3)")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Pipeline Flags:")
	fmt.Fprintln(w, "  -concurrency <n>       Max in-flight model calls (default: 4)")
	fmt.Fprintln(w, "  -task-concurrency <n>  Max concurrently executing tasks (default: 8)")
	fmt.Fprintln(w, "  -timeout <d>           Per-step task timeout, e.g. 90s")
	fmt.Fprintln(w, "  -output-column <name>  Column receiving each step's result")
	fmt.Fprintln(w, "  -explode               Branch rows on multi-valued results")
	fmt.Fprintln(w, "  -output <file>         Result file, .json or .csv (default: output.json)")
	fmt.Fprintln(w, "  -artifact-dir <dir>    Directory for artifact events")
	fmt.Fprintln(w, "  -cache <file>          SQLite response cache")
	fmt.Fprintln(w, "  -base-url <url>        Custom API base URL")
	fmt.Fprintln(w, "  -verbose               Log lifecycle events to stderr")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Per-Step Overrides:")
	fmt.Fprintln(w, "  Append -<stepIndex> to a model flag to target one step, e.g.")
	fmt.Fprintln(w, "  -candidates-1 5 -judge-model-1 gpt-5.2 -output-column-0 title")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  stampede generate leads.csv enrich.txt -output-column summary -output out.csv")
	fmt.Fprintln(w, "  stampede generate posts.json idea.txt draft.txt -candidates-1 3 -explode")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Environment:")
	fmt.Fprintf(w, "  OPENAI_API_KEY  %s\n", envStatus("OPENAI_API_KEY"))
}

// envStatus reports whether an environment variable is set.
func envStatus(key string) string {
	if os.Getenv(key) != "" {
		return "set"
	}
	return "not set"
}
