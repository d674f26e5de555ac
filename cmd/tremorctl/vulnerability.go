package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/tremor/internal/format"
	"github.com/seantiz/tremor/internal/model"
)

func newVulnerabilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vulnerability",
		Short: "Manage vulnerability models",
	}
	cmd.AddCommand(newVulnerabilityAddCmd())
	cmd.AddCommand(newVulnerabilityListCmd())
	cmd.AddCommand(newVulnerabilityDeleteCmd())
	cmd.AddCommand(newVulnerabilityExportCmd())
	return cmd
}

func newVulnerabilityAddCmd() *cobra.Command {
	var xmlPath string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Import a vulnerability model from its XML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(xmlPath)
			if err != nil {
				return err
			}
			defer f.Close()

			vm, fns, err := format.ParseVulnerabilityXML(f)
			if err != nil {
				return err
			}
			vm.ID = model.NewID()
			vm.CreatedAt = time.Now().UTC()
			for _, fn := range fns {
				fn.ID = model.NewID()
				fn.ModelID = vm.ID
			}

			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.CreateVulnerabilityModel(cmd.Context(), vm, fns); err != nil {
				return err
			}

			fmt.Printf("imported %s: %d functions (id %s)\n", vm.Name, len(fns), vm.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&xmlPath, "xml", "", "vulnerability model XML file")
	cmd.MarkFlagRequired("xml")
	return cmd
}

func newVulnerabilityListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored vulnerability models",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			models, err := s.ListVulnerabilityModels(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tLOSS CATEGORY\tFUNCTIONS\tCREATED")
			for _, m := range models {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					m.ID, m.Name, m.LossCategory, m.FunctionsCount,
					m.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newVulnerabilityDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a vulnerability model with its functions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.DeleteVulnerabilityModel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted vulnerability model %s\n", args[0])
			return nil
		},
	}
}

func newVulnerabilityExportCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a vulnerability model back to its XML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			vm, err := s.GetVulnerabilityModel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fns, err := s.ListVulnerabilityFunctions(cmd.Context(), vm.ID)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			path := filepath.Join(outDir, format.VulnerabilityXMLName)
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := format.WriteVulnerabilityXML(f, vm, fns); err != nil {
				return err
			}

			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "output directory")
	return cmd
}
