package commands

import (
	"github.com/spf13/cobra"

	"github.com/mklimuk/frontdesk/pkg/contacts"
)

func addContacts(topLevel *cobra.Command, ro *rootOptions) {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Print the phone directory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := loadContacts(ro)
			if err != nil {
				return err
			}
			tbl := newTable("NAME", "PHONE", "LINK")
			for _, c := range list {
				tbl.AddRow(c.Name, c.Phone, c.TelURI())
			}
			printTable(cmd.OutOrStdout(), "Contacts", tbl)
			return nil
		},
	}
	topLevel.AddCommand(cmd)
}

// loadContacts reads the directory without opening the store.
func loadContacts(ro *rootOptions) ([]contacts.Contact, error) {
	cfg, err := ro.load()
	if err != nil {
		return nil, err
	}
	return contacts.Load(cfg.Contacts.File)
}
