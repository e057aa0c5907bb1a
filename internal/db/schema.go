package db

import "fmt"

// SchemaSQL returns the chunk table definition for vectors of dim dimensions.
// Every filterable field has its own index.
func SchemaSQL(dim int) string {
	return fmt.Sprintf(`
    DEFINE TABLE IF NOT EXISTS chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS chunk_key ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS ticker ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS filing_type ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS filing_year ON chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS section ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS heading_path ON chunk TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS accession ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS chunk_index ON chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS word_count ON chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS text ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS embedding ON chunk TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS updated ON chunk TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS chunk_ticker ON chunk FIELDS ticker;
    DEFINE INDEX IF NOT EXISTS chunk_filing_type ON chunk FIELDS filing_type;
    DEFINE INDEX IF NOT EXISTS chunk_filing_year ON chunk FIELDS filing_year;
    DEFINE INDEX IF NOT EXISTS chunk_section ON chunk FIELDS section;
    DEFINE INDEX IF NOT EXISTS chunk_accession ON chunk FIELDS accession;
    DEFINE INDEX IF NOT EXISTS chunk_embedding ON chunk FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;
`, dim)
}
