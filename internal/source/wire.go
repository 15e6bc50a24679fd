package source

// Wire envelope for every endpoint: <response><status><code> plus a
// payload under <data>. Element names follow the upstream API, which
// speaks Spanish.

type statusNode struct {
	Code int `xml:"code"`
}

type listEnvelope struct {
	Status statusNode `xml:"status"`
	Items  []itemNode `xml:"data>item"`
}

type itemNode struct {
	ID              string   `xml:"identificador"`
	Title           string   `xml:"titulo"`
	Rank            rankNode `xml:"rango"`
	Department      string   `xml:"departamento"`
	Scope           string   `xml:"ambito"`
	PublicationDate string   `xml:"fecha_publicacion"`
	EnactmentDate   string   `xml:"fecha_disposicion"`
	ConsolidatedURL string   `xml:"url_html_consolidada"`
	ELIURL          string   `xml:"url_eli"`
	Updated         string   `xml:"fecha_actualizacion"`
}

type rankNode struct {
	Code string `xml:"codigo,attr"`
	Name string `xml:",chardata"`
}

type indexEnvelope struct {
	Status statusNode       `xml:"status"`
	Blocks []indexBlockNode `xml:"data>bloque"`
}

// indexBlockNode carries the block's identity and change marker as child
// elements. The index deliberately omits the block kind; only the revision
// endpoint reports it.
type indexBlockNode struct {
	ID      string `xml:"id"`
	Title   string `xml:"titulo"`
	Updated string `xml:"fecha_actualizacion"`
	URL     string `xml:"url"`
}

type revisionsEnvelope struct {
	Status statusNode        `xml:"status"`
	Block  revisionBlockNode `xml:"data>bloque"`
}

type revisionBlockNode struct {
	ID       string        `xml:"id,attr"`
	Kind     string        `xml:"tipo,attr"`
	Title    string        `xml:"titulo,attr"`
	Versions []versionNode `xml:"version"`
}

// versionNode wraps one revision of the block text. The markup between the
// version tags is kept verbatim; normalization happens downstream.
type versionNode struct {
	AmendingID      string `xml:"id_norma,attr"`
	PublicationDate string `xml:"fecha_publicacion,attr"`
	EffectiveStart  string `xml:"fecha_vigencia,attr"`
	Markup          string `xml:",innerxml"`
}
