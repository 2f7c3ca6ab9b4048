package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mtzanidakis/maistro/internal/models"
	"github.com/spf13/cobra"
)

func newModelsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage the models available to configurations",
		Long: `Manage the models available to configurations.

Environment:
  MAISTRO_VAULT_PASSPHRASE   Optional. When set, the API key is encrypted at rest.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available models",
		Args:  cobra.NoArgs,
		RunE: withModels(func(cmd *cobra.Command, m *models.Manager, args []string) error {
			return modelsList(cmd.OutOrStdout(), m)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <model>",
		Short: "Add a model id",
		Args:  cobra.ExactArgs(1),
		RunE: withModels(func(cmd *cobra.Command, m *models.Manager, args []string) error {
			if err := m.Add(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Model %q added\n", args[0])
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <model>",
		Short: "Remove a model id",
		Args:  cobra.ExactArgs(1),
		RunE: withModels(func(cmd *cobra.Command, m *models.Manager, args []string) error {
			if err := m.Remove(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Model %q removed\n", args[0])
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "default <model>",
		Short: "Set the model used when a prompt names none",
		Args:  cobra.ExactArgs(1),
		RunE: withModels(func(cmd *cobra.Command, m *models.Manager, args []string) error {
			if err := m.SetDefault(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default model set to %q\n", args[0])
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-key [key]",
		Short: "Store the OpenRouter API key (read from stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withModels(func(cmd *cobra.Command, m *models.Manager, args []string) error {
			key, err := keyFromArgs(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if err := m.SetAPIKey(key); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API key saved")
			return nil
		}),
	})

	return cmd
}

func withModels(fn func(cmd *cobra.Command, m *models.Manager, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		m, err := openModels(cfg)
		if err != nil {
			return err
		}
		return fn(cmd, m, args)
	}
}

func modelsList(out io.Writer, m *models.Manager) error {
	def := m.DefaultModel()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tDEFAULT")
	for _, id := range m.Models() {
		mark := ""
		if id == def {
			mark = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\n", id, mark)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	key := "not set"
	if m.HasAPIKey() {
		key = "set"
	}
	fmt.Fprintf(out, "\nAPI key: %s\n", key)
	return nil
}

func keyFromArgs(args []string, in io.Reader) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	if f, ok := in.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			fmt.Fprint(os.Stderr, "API key: ")
		}
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read key: %w", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return "", fmt.Errorf("empty API key")
	}
	return key, nil
}
