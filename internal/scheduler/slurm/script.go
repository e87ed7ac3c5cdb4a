package slurm

import (
	"strings"

	"github.com/lucasew/slurm-executor/internal/scheduler"
)

// Args renders the request as sbatch command-line options, in order:
// job name, resource parameters, then the fixed working directory, export
// and output options.
func Args(req scheduler.Request) []string {
	args := []string{"--job-name=" + req.Name}
	for _, p := range req.Params {
		args = append(args, formatParam(p))
	}
	if req.WorkDir != "" {
		args = append(args, "--chdir="+req.WorkDir)
	}
	args = append(args, "--export=ALL")
	if req.Stdout != "" {
		args = append(args, "--output="+req.Stdout)
	}
	if req.Stderr != "" {
		args = append(args, "--error="+req.Stderr)
	}
	return args
}

// BatchScript renders the sbatch file that runs req.Program.
func BatchScript(req scheduler.Request) string {
	lines := []string{"#!/bin/bash", ""}
	for _, arg := range Args(req) {
		lines = append(lines, "#SBATCH "+arg)
	}
	lines = append(lines, "", "exec "+shellJoin(req.Program), "")
	return strings.Join(lines, "\n")
}

func formatParam(p scheduler.Param) string {
	if p.Switch {
		return "--" + p.Name
	}
	if strings.ContainsAny(p.Value, " \t") {
		return "--" + p.Name + `="` + strings.ReplaceAll(p.Value, `"`, `\"`) + `"`
	}
	return "--" + p.Name + "=" + p.Value
}

func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
