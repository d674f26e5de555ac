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

func newExposureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exposure",
		Short: "Manage exposure models",
	}
	cmd.AddCommand(newExposureAddCmd())
	cmd.AddCommand(newExposureListCmd())
	cmd.AddCommand(newExposureDeleteCmd())
	cmd.AddCommand(newExposureExportCmd())
	return cmd
}

func newExposureAddCmd() *cobra.Command {
	var xmlPath, csvPath string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Import an exposure model from its XML and asset CSV files",
		RunE: func(cmd *cobra.Command, args []string) error {
			xmlFile, err := os.Open(xmlPath)
			if err != nil {
				return err
			}
			defer xmlFile.Close()
			csvFile, err := os.Open(csvPath)
			if err != nil {
				return err
			}
			defer csvFile.Close()

			collection, err := format.ParseExposureXML(xmlFile)
			if err != nil {
				return err
			}
			rows, err := format.ParseAssetCSV(csvFile)
			if err != nil {
				return err
			}

			collection.ID = model.NewID()
			collection.CreatedAt = time.Now().UTC()
			sites, assets := format.BuildSitesAndAssets(collection.ID, rows)

			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.CreateAssetCollection(cmd.Context(), collection, sites, assets); err != nil {
				return err
			}

			fmt.Printf("imported %s: %d assets at %d sites (id %s)\n",
				collection.Name, len(assets), len(sites), collection.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&xmlPath, "xml", "", "exposure model XML file")
	cmd.Flags().StringVar(&csvPath, "csv", "", "asset CSV file")
	cmd.MarkFlagRequired("xml")
	cmd.MarkFlagRequired("csv")
	return cmd
}

func newExposureListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored exposure models",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			collections, err := s.ListAssetCollections(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tASSETS\tSITES\tCREATED")
			for _, c := range collections {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					c.ID, c.Name, c.Category, c.AssetsCount, c.SitesCount,
					c.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newExposureDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an exposure model with its sites and assets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.DeleteAssetCollection(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted exposure model %s\n", args[0])
			return nil
		},
	}
}

func newExposureExportCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write an exposure model back to its XML and CSV files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			collection, err := s.GetAssetCollection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			sites, err := s.ListSites(cmd.Context(), collection.ID)
			if err != nil {
				return err
			}
			assets, err := s.ListAssets(cmd.Context(), collection.ID)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}

			xmlPath := filepath.Join(outDir, format.ExposureXMLName)
			xmlFile, err := os.Create(xmlPath)
			if err != nil {
				return err
			}
			defer xmlFile.Close()
			if err := format.WriteExposureXML(xmlFile, collection, format.ExposureCSVName); err != nil {
				return err
			}

			csvPath := filepath.Join(outDir, format.ExposureCSVName)
			csvFile, err := os.Create(csvPath)
			if err != nil {
				return err
			}
			defer csvFile.Close()
			if err := format.WriteAssetCSV(csvFile, sites, assets); err != nil {
				return err
			}

			fmt.Printf("wrote %s and %s\n", xmlPath, csvPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "output directory")
	return cmd
}
