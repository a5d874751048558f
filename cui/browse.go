package cui

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Dyastin-0/gostash/styles"
	"github.com/charmbracelet/huh"
)

const (
	optionUp     = "../"
	optionTyped  = "\x00typed"
	optionCancel = "\x00cancel"
)

var errSelectionCancelled = errors.New("file selection cancelled")

// selectFile browses from base and returns the chosen file relative to base.
// Directories above base are not offered.
func (ui *ClientUI) selectFile(base string) (string, error) {
	current := base

	for {
		entries, err := os.ReadDir(current)
		if err != nil {
			return "", err
		}

		rel, _ := filepath.Rel(base, current)

		var options []huh.Option[string]
		if rel != "." {
			options = append(options, huh.NewOption(optionUp, optionUp))
		}
		options = appendEntries(options, entries)
		options = append(options,
			huh.NewOption("type a name", optionTyped),
			huh.NewOption("cancel", optionCancel),
		)

		var selected string
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title(fmt.Sprintf("upload from: %s", current)).
					Options(options...).
					Value(&selected),
			),
		)

		if err := form.Run(); err != nil {
			return "", err
		}

		switch selected {
		case optionCancel:
			return "", errSelectionCancelled

		case optionTyped:
			return ui.typeFilename(rel)

		case optionUp:
			current = filepath.Dir(current)

		default:
			full := filepath.Join(current, selected)
			info, err := os.Stat(full)
			if err != nil {
				ui.println(styles.ERROR.Render(fmt.Sprintf("failed to access %s: %v", full, err)))
				continue
			}

			if info.IsDir() {
				current = full
				continue
			}

			return filepath.Rel(base, full)
		}
	}
}

func (ui *ClientUI) typeFilename(rel string) (string, error) {
	var name string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("filename to upload").
				Value(&name).
				Validate(validateFilename),
		),
	)

	if err := form.Run(); err != nil {
		return "", err
	}

	if rel == "." {
		return name, nil
	}
	return filepath.Join(rel, name), nil
}

func appendEntries(options []huh.Option[string], entries []os.DirEntry) []huh.Option[string] {
	for _, entry := range entries {
		if entry.IsDir() {
			options = append(options, huh.NewOption(entry.Name()+"/", entry.Name()))
		}
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		label := fmt.Sprintf("%s (%d bytes)", entry.Name(), info.Size())
		options = append(options, huh.NewOption(label, entry.Name()))
	}

	return options
}
