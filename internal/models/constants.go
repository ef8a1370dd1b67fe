package models

// Metadata keys shared by documents, chunks and search results.
const (
	MetaDocumentID   = "document_id"
	MetaChunkIndex   = "chunk_index"
	MetaFilename     = "filename"
	MetaRegion       = "region"
	MetaOrganization = "organization"
	MetaStandard     = "standard"
	MetaPage         = "page"
	MetaTokenCount   = "token_count"
)

const (
	// PageBreak separates pages in extracted document text.
	PageBreak = "\f"
	// ParagraphSeparator joins paragraphs inside a chunk.
	ParagraphSeparator = "\n\n"
	// ContentPreviewLimit bounds the content returned by the search endpoint.
	ContentPreviewLimit = 500
	// EllipsisMarker marks truncated previews.
	EllipsisMarker = "..."
)
