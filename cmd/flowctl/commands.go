package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dshills/approvalflow/approval"
	"github.com/dshills/approvalflow/graph"
)

// render writes v as indented JSON with -o json, or calls text otherwise.
func (a *app) render(w io.Writer, v any, text func(w io.Writer) error) error {
	if a.output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := text(tw); err != nil {
		return err
	}
	return tw.Flush()
}

// parseAssignments turns key=value pairs into a context map. Values are
// read as YAML scalars or flow collections, so 42, true and [a, b] keep
// their types; anything unparsable is kept as a string.
func parseAssignments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected key=value", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		out[key] = value
	}
	return out, nil
}

// loadContextFile reads a JSON or YAML object from path.
func loadContextFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &out)
	} else {
		err = yaml.Unmarshal(data, &out)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file...]",
		Short: "Validate template files, or every template in the templates directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			type result struct {
				Template string   `json:"template"`
				Valid    bool     `json:"valid"`
				Error    string   `json:"error,omitempty"`
				Dangling []string `json:"dangling,omitempty"`
			}

			var results []result
			check := func(name string, m *graph.Model, err error) {
				r := result{Template: name, Valid: err == nil}
				if err != nil {
					r.Error = err.Error()
				} else {
					for _, t := range m.Dangling() {
						r.Dangling = append(r.Dangling, t.From+" -> "+t.To)
					}
				}
				results = append(results, r)
			}

			if len(args) > 0 {
				for _, path := range args {
					m, err := graph.LoadModelFile(path)
					check(path, m, err)
				}
			} else {
				ids, err := graph.ListTemplates(a.cfg.TemplatesDir)
				if err != nil {
					return err
				}
				load := graph.DirLoader(a.cfg.TemplatesDir)
				for _, id := range ids {
					m, err := load(cmd.Context(), id)
					check(id, m, err)
				}
			}

			invalid := 0
			for _, r := range results {
				if !r.Valid {
					invalid++
				}
			}
			err := a.render(cmd.OutOrStdout(), results, func(w io.Writer) error {
				for _, r := range results {
					if !r.Valid {
						fmt.Fprintf(w, "FAIL\t%s\t%s\n", r.Template, strings.ReplaceAll(r.Error, "\n", "; "))
						continue
					}
					fmt.Fprintf(w, "ok\t%s\n", r.Template)
					for _, d := range r.Dangling {
						fmt.Fprintf(w, "\twarning: dangling transition %s\n", d)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d templates invalid", invalid, len(results))
			}
			return nil
		},
	}
}

func newTemplatesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List the templates in the templates directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, err := graph.ListTemplates(a.cfg.TemplatesDir)
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), ids, func(w io.Writer) error {
				for _, id := range ids {
					fmt.Fprintln(w, id)
				}
				return nil
			})
		},
	}
}

func newStartCmd(a *app) *cobra.Command {
	var (
		businessKey string
		startedBy   string
		sets        []string
		contextFile string
	)
	cmd := &cobra.Command{
		Use:   "start <template>",
		Short: "Start a new instance of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initial := map[string]any{}
			if contextFile != "" {
				fromFile, err := loadContextFile(contextFile)
				if err != nil {
					return err
				}
				for k, v := range fromFile {
					initial[k] = v
				}
			}
			fromFlags, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			for k, v := range fromFlags {
				initial[k] = v
			}

			svc, err := a.service()
			if err != nil {
				return err
			}
			inst, err := svc.Start(cmd.Context(), approval.StartRequest{
				TemplateID:  args[0],
				BusinessKey: businessKey,
				StartedBy:   startedBy,
				Context:     initial,
			})
			if err != nil {
				return err
			}
			return a.renderInstance(cmd.OutOrStdout(), inst)
		},
	}
	cmd.Flags().StringVar(&businessKey, "key", "", "business key, e.g. a contract number")
	cmd.Flags().StringVar(&startedBy, "by", os.Getenv("USER"), "user starting the instance")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "initial context value key=value (repeatable)")
	cmd.Flags().StringVar(&contextFile, "context-file", "", "JSON or YAML file with the initial context")
	return cmd
}

func newDecideCmd(a *app, decision approval.Decision) *cobra.Command {
	var (
		actedBy string
		comment string
		sets    []string
	)
	verb := strings.ToLower(string(decision))
	cmd := &cobra.Command{
		Use:   verb + " <instance> <node>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a pending task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			update, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			svc, err := a.service()
			if err != nil {
				return err
			}
			inst, err := svc.Decide(cmd.Context(), approval.DecisionRequest{
				InstanceID:    args[0],
				NodeID:        args[1],
				ActedBy:       actedBy,
				Decision:      decision,
				Comment:       comment,
				ContextUpdate: update,
			})
			if err != nil {
				return err
			}
			return a.renderInstance(cmd.OutOrStdout(), inst)
		},
	}
	cmd.Flags().StringVar(&actedBy, "by", os.Getenv("USER"), "user taking the decision")
	cmd.Flags().StringVarP(&comment, "comment", "m", "", "decision comment")
	if decision == approval.Approve {
		cmd.Flags().StringArrayVar(&sets, "set", nil, "context update key=value (repeatable)")
	}
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <instance>",
		Short: "Show an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			inst, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.renderInstance(cmd.OutOrStdout(), inst)
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <instance>",
		Short: "Show the audit trail of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			actions, err := svc.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), actions, func(w io.Writer) error {
				fmt.Fprintln(w, "REV\tACTION\tNODE\tBY\tSTATUS\tAT\tCOMMENT")
				for _, act := range actions {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
						act.Revision, act.Action, act.NodeID, act.ActedBy, act.Status,
						act.At.Format("2006-01-02 15:04:05"), act.Comment)
				}
				return nil
			})
		},
	}
}

func newPendingCmd(a *app) *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "pending <instance>",
		Short: "List the open tasks of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			tasks, err := svc.PendingForRoles(cmd.Context(), args[0], roles...)
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), tasks, func(w io.Writer) error {
				writeTasks(w, tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "only tasks for these roles")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			ids, err := svc.Instances(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), ids, func(w io.Writer) error {
				for _, id := range ids {
					fmt.Fprintln(w, id)
				}
				return nil
			})
		},
	}
}

func (a *app) renderInstance(w io.Writer, inst *approval.Instance) error {
	return a.render(w, inst, func(w io.Writer) error {
		fmt.Fprintf(w, "Instance:\t%s\n", inst.ID)
		fmt.Fprintf(w, "Template:\t%s\n", inst.TemplateID)
		if inst.BusinessKey != "" {
			fmt.Fprintf(w, "Business key:\t%s\n", inst.BusinessKey)
		}
		fmt.Fprintf(w, "Status:\t%s\n", inst.Status)
		fmt.Fprintf(w, "Revision:\t%d\n", inst.Revision)
		fmt.Fprintf(w, "Completed:\t%s\n", strings.Join(inst.Snapshot.Completed, ", "))
		if len(inst.Skipped) > 0 {
			fmt.Fprintf(w, "Skipped:\t%s\n", strings.Join(inst.Skipped, ", "))
		}
		if len(inst.Snapshot.Context) > 0 {
			keys := make([]string, 0, len(inst.Snapshot.Context))
			for k := range inst.Snapshot.Context {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintln(w, "Context:")
			for _, k := range keys {
				fmt.Fprintf(w, "  %s\t%v\n", k, inst.Snapshot.Context[k])
			}
		}
		if pending := inst.Pending(); len(pending) > 0 {
			fmt.Fprintln(w, "Pending:")
			writeTasks(w, pending)
		}
		return nil
	})
}

func writeTasks(w io.Writer, tasks []graph.PendingTask) {
	fmt.Fprintln(w, "NODE\tTYPE\tROLE\tNAME")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.NodeID, t.Type, t.Role, t.Name)
	}
}
