package dataset

import "os"

// ExportCSV writes the table to a CSV file at path.
func ExportCSV(path string, tbl *Table) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return tbl.WriteCSV(file)
}

// ExportJSON writes the table to an indented JSON file at path.
func ExportJSON(path string, tbl *Table) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return tbl.WriteJSON(file)
}
