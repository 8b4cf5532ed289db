package main

import (
	"bytes"
	"testing"

	"github.com/musher-dev/spacelink/internal/doctor"
	"github.com/musher-dev/spacelink/internal/output"
	"github.com/musher-dev/spacelink/internal/terminal"
	"github.com/musher-dev/spacelink/internal/testutil"
)

func renderDoctorOutput(results []doctor.Result) string {
	var buf bytes.Buffer

	term := &terminal.Info{IsTTY: false, NoColor: true, Width: 80, Height: 24}
	renderDoctor(output.NewWriter(&buf, &buf, term), results)

	return buf.String()
}

func TestDoctorOutput_AllPass_Golden(t *testing.T) {
	results := []doctor.Result{
		{Name: doctor.CheckAWSCLI, Status: doctor.StatusPass, Message: "2.15.0 at /usr/local/bin/aws"},
		{Name: doctor.CheckPlugin, Status: doctor.StatusPass, Message: "1.2.553.0"},
		{Name: doctor.CheckExtensions, Status: doctor.StatusPass, Message: "Remote-SSH, AWS Toolkit"},
		{Name: doctor.CheckHostAlias, Status: doctor.StatusPass, Message: "Host sm_* in ~/.ssh/config"},
		{Name: doctor.CheckSelfVersion, Status: doctor.StatusPass, Message: "v0.4.0 (latest)"},
	}

	testutil.AssertGolden(t, renderDoctorOutput(results), "doctor_all_pass.golden")
}

func TestDoctorOutput_Mixed_Golden(t *testing.T) {
	results := []doctor.Result{
		{Name: doctor.CheckAWSCLI, Status: doctor.StatusPass, Message: "2.15.0 at /usr/local/bin/aws"},
		{Name: doctor.CheckPlugin, Status: doctor.StatusFail, Message: "Not found", Detail: "Run 'spacelink install plugin'"},
		{Name: doctor.CheckExtensions, Status: doctor.StatusWarn, Message: "AWS Toolkit missing"},
		{Name: doctor.CheckHostAlias, Status: doctor.StatusFail, Message: "No Host sm_* entry", Detail: "Run 'spacelink connect' to create it"},
		{Name: doctor.CheckSelfVersion, Status: doctor.StatusWarn, Message: "Development build (version check skipped)"},
	}

	testutil.AssertGolden(t, renderDoctorOutput(results), "doctor_mixed.golden")
}
