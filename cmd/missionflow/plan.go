package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/missionflow/workflow"
)

// planFile 是步骤计划的 YAML 格式
type planFile struct {
	MissionID string           `yaml:"mission_id"`
	Steps     []*workflow.Step `yaml:"steps"`
}

// loadPlan 读取并校验计划文件
func loadPlan(path string, defaultRetries int) (*planFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return parsePlan(data, defaultRetries)
}

// parsePlan 解析计划。未声明的状态视为 PENDING，未声明的位置按出现顺序编号，
// max_retries 为 0 时取 defaultRetries。
func parsePlan(data []byte, defaultRetries int) (*planFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var plan planFile
	if err := dec.Decode(&plan); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("plan is empty")
		}
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}

	ids := make(map[string]bool, len(plan.Steps))
	for i, step := range plan.Steps {
		if step == nil || step.ID == "" {
			return nil, fmt.Errorf("step %d: id is required", i)
		}
		if ids[step.ID] {
			return nil, fmt.Errorf("step %s: duplicate id", step.ID)
		}
		ids[step.ID] = true
		if step.Operation == "" {
			return nil, fmt.Errorf("step %s: operation is required", step.ID)
		}

		switch step.Status {
		case "":
			step.Status = workflow.StatusPending
		case workflow.StatusPending, workflow.StatusCompleted, workflow.StatusCancelled:
		default:
			return nil, fmt.Errorf("step %s: status %s cannot be declared in a plan", step.ID, step.Status)
		}
		if step.Position == 0 {
			step.Position = i + 1
		}
		if step.MaxRetries == 0 {
			step.MaxRetries = defaultRetries
		}
		if step.MaxRetries < 0 {
			return nil, fmt.Errorf("step %s: max_retries must be >= 0", step.ID)
		}
	}

	for _, step := range plan.Steps {
		for _, dep := range step.Dependencies {
			if dep.SourceStepID == "" || dep.OutputName == "" {
				return nil, fmt.Errorf("step %s: dependency needs source_step_id and output_name", step.ID)
			}
			if !ids[dep.SourceStepID] {
				return nil, fmt.Errorf("step %s: unknown dependency %s", step.ID, dep.SourceStepID)
			}
		}
	}
	return &plan, nil
}
