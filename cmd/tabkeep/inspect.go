package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/tabkeep/internal/migrate"
	"pkt.systems/tabkeep/internal/persist"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Decode a metadata, tab state or legacy document file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			view, err := inspectFile(filepath.Base(args[0]), data)
			if err != nil {
				return fmt.Errorf("inspect %s: %w", args[0], err)
			}
			out, err := yaml.Marshal(view)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

type metadataView struct {
	Kind           string      `yaml:"kind"`
	Window         int         `yaml:"window"`
	Version        int32       `yaml:"version"`
	IncognitoCount int         `yaml:"incognito_count"`
	Entries        []entryView `yaml:"entries"`
}

type entryView struct {
	ID      int32  `yaml:"id"`
	URL     string `yaml:"url,omitempty"`
	Profile string `yaml:"profile"`
	Active  bool   `yaml:"active,omitempty"`
}

type tabStateView struct {
	Kind            string `yaml:"kind"`
	ID              int32  `yaml:"id"`
	URL             string `yaml:"url"`
	Title           string `yaml:"title,omitempty"`
	ParentID        int32  `yaml:"parent_id"`
	Grouped         bool   `yaml:"grouped_with_parent,omitempty"`
	LastShown       string `yaml:"last_shown,omitempty"`
	OpenerApp       string `yaml:"opener_app,omitempty"`
	Launch          string `yaml:"launch"`
	ContentsBytes   int    `yaml:"contents_bytes"`
	ContentsVersion int32  `yaml:"contents_version"`
}

type documentsView struct {
	Kind        string         `yaml:"kind"`
	ActiveTabID int32          `yaml:"active_tab_id"`
	Entries     []documentView `yaml:"entries"`
}

type documentView struct {
	ID        int32  `yaml:"id"`
	URL       string `yaml:"url"`
	LastShown string `yaml:"last_shown,omitempty"`
	Incognito bool   `yaml:"incognito,omitempty"`
}

// inspectFile picks the decoder from the file name.
func inspectFile(name string, data []byte) (any, error) {
	if name == migrate.DocumentsFileName {
		list, err := migrate.DecodeDocumentList(data)
		if err != nil {
			return nil, err
		}
		view := documentsView{Kind: "documents", ActiveTabID: int32(list.ActiveTabID)}
		for _, entry := range list.Entries {
			view.Entries = append(view.Entries, documentView{
				ID:        int32(entry.TabID),
				URL:       entry.URL,
				LastShown: formatTime(entry.LastShown),
				Incognito: entry.Incognito,
			})
		}
		return view, nil
	}
	if window, _, ok := persist.ParseMetadataFileName(name); ok {
		state, err := persist.DecodeMetadata(data)
		if err != nil {
			return nil, err
		}
		view := metadataView{Kind: "metadata", Window: window, Version: state.Version, IncognitoCount: state.IncognitoCount}
		for _, entry := range state.Entries {
			item := entryView{ID: int32(entry.ID), URL: entry.URL, Profile: "unknown"}
			if entry.Incognito != nil {
				item.Profile = "normal"
				if *entry.Incognito {
					item.Profile = "incognito"
				}
			}
			item.Active = entry.IsIncognitoActive || entry.IsNormalActive
			view.Entries = append(view.Entries, item)
		}
		return view, nil
	}
	if id, incognito, ok := persist.ParseTabStateFileName(name); ok {
		if incognito {
			return nil, fmt.Errorf("incognito state of tab %d is sealed with a per-process key", id)
		}
		state, err := persist.DecodeTabState(data)
		if err != nil {
			return nil, err
		}
		return tabStateView{
			Kind:            "tab_state",
			ID:              int32(id),
			URL:             state.URL,
			Title:           state.Title,
			ParentID:        int32(state.ParentID),
			Grouped:         state.GroupedWithParent,
			LastShown:       formatTime(state.LastShown),
			OpenerApp:       state.OpenerAppID,
			Launch:          state.Launch.String(),
			ContentsBytes:   len(state.Contents),
			ContentsVersion: state.ContentsVersion,
		}, nil
	}
	return nil, fmt.Errorf("unrecognized file name %q", name)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
