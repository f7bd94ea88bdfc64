package mbtiles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// MergePlan describes a merge in a YAML file:
//
//	dest: europe.mbtiles
//	sources:
//	  - alps.mbtiles
//	  - s3://tiles/pyrenees.mbtiles?region=eu-west-3
//	bbox: -10,35,20,50
//	zooms: 8-15
//
// Relative local paths are resolved against the directory of the plan.
type MergePlan struct {
	Dest        string   `yaml:"dest"`
	Sources     []string `yaml:"sources"`
	BBox        string   `yaml:"bbox,omitempty"`
	Region      string   `yaml:"region,omitempty"`
	Zooms       string   `yaml:"zooms,omitempty"`
	Name        string   `yaml:"name,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Overwrite   bool     `yaml:"overwrite,omitempty"`
	ScratchDir  string   `yaml:"scratch_dir,omitempty"`
}

// LoadMergePlan reads a plan file.
func LoadMergePlan(path string) (MergePlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MergePlan{}, fmt.Errorf("failed to read plan %s: %w", path, err)
	}
	var plan MergePlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return MergePlan{}, fmt.Errorf("failed to parse plan %s: %w", path, err)
	}
	if plan.Dest == "" {
		return MergePlan{}, fmt.Errorf("plan %s: no dest", path)
	}
	if len(plan.Sources) == 0 {
		return MergePlan{}, fmt.Errorf("plan %s: no sources", path)
	}
	if plan.BBox != "" && plan.Region != "" {
		return MergePlan{}, fmt.Errorf("plan %s: bbox and region are exclusive", path)
	}
	base := filepath.Dir(path)
	resolve := func(p string) string {
		if p == "" || IsRemote(p) || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	plan.Dest = resolve(plan.Dest)
	plan.Region = resolve(plan.Region)
	plan.ScratchDir = resolve(plan.ScratchDir)
	for i, s := range plan.Sources {
		plan.Sources[i] = resolve(s)
	}
	return plan, nil
}

// Options converts the plan into merge options.
func (p MergePlan) Options() (MergeOptions, error) {
	opts := MergeOptions{
		Name:        p.Name,
		Description: p.Description,
		Overwrite:   p.Overwrite,
		ScratchDir:  p.ScratchDir,
	}
	switch {
	case p.BBox != "":
		b, err := ParseBBox(p.BBox)
		if err != nil {
			return MergeOptions{}, err
		}
		opts.BBox = &b
	case p.Region != "":
		b, err := LoadRegion(p.Region)
		if err != nil {
			return MergeOptions{}, err
		}
		opts.BBox = &b
	}
	if p.Zooms != "" {
		zr, err := ParseZoomRange(p.Zooms)
		if err != nil {
			return MergeOptions{}, err
		}
		opts.Zooms = &zr
	}
	if IsRemote(p.Dest) {
		return MergeOptions{}, errors.New("the merge destination must be a local path")
	}
	return opts, nil
}
