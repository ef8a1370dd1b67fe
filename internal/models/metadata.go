package models

import "strconv"

// DocumentMetadataMap flattens document metadata into string pairs, skipping empty values.
func DocumentMetadataMap(doc Document) map[string]string {
	out := make(map[string]string, 5)
	out[MetaDocumentID] = doc.ID
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set(MetaFilename, doc.Metadata.Filename)
	set(MetaRegion, doc.Metadata.Region)
	set(MetaOrganization, doc.Metadata.Organization)
	set(MetaStandard, doc.Metadata.Standard)
	return out
}

// ChunkMetadataMap returns the chunk-level metadata of c.
func ChunkMetadataMap(c Chunk) map[string]string {
	out := map[string]string{
		MetaChunkIndex: strconv.Itoa(c.Index),
		MetaTokenCount: strconv.Itoa(c.TokenCount),
	}
	if c.Page > 0 {
		out[MetaPage] = strconv.Itoa(c.Page)
	}
	for k, v := range c.Metadata {
		out[k] = v
	}
	return out
}

// ResolveMetadata merges metadata layers once at read time. Later layers win,
// so callers pass document-level metadata before chunk-level metadata.
func ResolveMetadata(layers ...map[string]string) map[string]string {
	size := 0
	for _, l := range layers {
		size += len(l)
	}
	out := make(map[string]string, size)
	for _, l := range layers {
		for k, v := range l {
			if v == "" {
				continue
			}
			out[k] = v
		}
	}
	return out
}
