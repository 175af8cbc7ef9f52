// Command kg-gen produces a deterministic synthetic knowledge graph for
// local runs and benchmarks: a KGX-style tar.gz with node and edge TSVs,
// plus a matching relation closure file over the generated ontology
// trees. The same seed always yields the same bytes.
package main

import (
	"archive/tar"
	"compress/gzip"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

func main() {
	outDir := flag.String("out", "testdata", "Output directory")
	name := flag.String("name", "synthetic-kg", "Graph name, used in file names")
	phenotypes := flag.Int("phenotypes", 50, "Number of phenotype terms")
	diseases := flag.Int("diseases", 20, "Number of disease terms")
	genes := flag.Int("genes", 15, "Number of genes")
	edges := flag.Int("edges", 200, "Number of association edges")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	g := generate(rng, *phenotypes, *diseases, *genes, *edges)

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fatal(err)
	}
	archivePath := filepath.Join(*outDir, *name+".tar.gz")
	if err := writeArchive(archivePath, *name, g); err != nil {
		fatal(err)
	}
	closure := g.closureTSV()
	closurePath := filepath.Join(*outDir, *name+"_closure.tsv")
	if err := os.WriteFile(closurePath, []byte(closure), 0o644); err != nil {
		fatal(err)
	}

	fmt.Printf("wrote %s: %d nodes, %d edges\n", archivePath, len(g.nodes), len(g.edges))
	fmt.Printf("wrote %s: %d closure rows\n", closurePath, strings.Count(closure, "\n"))
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

type node struct {
	id, name, category, taxon, taxonLabel string
}

type edge struct {
	id, subject, predicate, object string
	negated                        bool
	evidence, publications         []string
	source                         string
}

type graph struct {
	nodes []node
	edges []edge
	// parent index per phenotype and disease term, -1 at the roots
	phenoParents   []int
	diseaseParents []int
	phenoIDs       []string
	diseaseIDs     []string
	geneIDs        []string
}

var (
	phenoModifiers = []string{"Abnormal", "Reduced", "Increased", "Absent", "Progressive"}
	phenoSystems   = []string{"gait", "muscle tone", "reflexes", "vision", "hearing", "growth", "coordination", "heart rate"}
	diseaseKinds   = []string{"Familial", "Juvenile", "Congenital", "Atypical", "Early-onset"}
	diseaseCores   = []string{"epilepsy", "ataxia", "myopathy", "dystonia", "neuropathy"}
	evidenceCodes  = []string{"ECO:0000269", "ECO:0000305", "ECO:0000501", "ECO:0007669"}
	sources        = []string{"infores:omim", "infores:orphanet", "infores:hpoa"}
)

func generate(rng *rand.Rand, phenotypes, diseases, genes, edgeCount int) *graph {
	g := &graph{}

	g.phenoParents = buildTree(rng, phenotypes)
	for i := 0; i < phenotypes; i++ {
		id := fmt.Sprintf("HP:%07d", i+1)
		g.phenoIDs = append(g.phenoIDs, id)
		g.nodes = append(g.nodes, node{
			id:       id,
			name:     pick(rng, phenoModifiers) + " " + pick(rng, phenoSystems),
			category: "biolink:PhenotypicFeature",
		})
	}

	g.diseaseParents = buildTree(rng, diseases)
	for i := 0; i < diseases; i++ {
		id := fmt.Sprintf("MONDO:%07d", i+1)
		g.diseaseIDs = append(g.diseaseIDs, id)
		g.nodes = append(g.nodes, node{
			id:         id,
			name:       pick(rng, diseaseKinds) + " " + pick(rng, diseaseCores),
			category:   "biolink:Disease",
			taxon:      "NCBITaxon:9606",
			taxonLabel: "Homo sapiens",
		})
	}

	for i := 0; i < genes; i++ {
		id := fmt.Sprintf("HGNC:%d", 1000+i)
		g.geneIDs = append(g.geneIDs, id)
		g.nodes = append(g.nodes, node{
			id:         id,
			name:       geneSymbol(rng),
			category:   "biolink:Gene",
			taxon:      "NCBITaxon:9606",
			taxonLabel: "Homo sapiens",
		})
	}

	for i := 0; i < edgeCount; i++ {
		e := edge{
			id:      fmt.Sprintf("edge:%07d", i+1),
			negated: rng.Intn(20) == 0,
			source:  pick(rng, sources),
		}
		if rng.Intn(10) < 6 || len(g.geneIDs) == 0 {
			e.subject = pick(rng, g.diseaseIDs)
			e.predicate = "biolink:has_phenotype"
			e.object = pick(rng, g.phenoIDs)
		} else {
			e.subject = pick(rng, g.geneIDs)
			e.predicate = "biolink:gene_associated_with_condition"
			e.object = pick(rng, g.diseaseIDs)
		}
		for n := 1 + rng.Intn(3); n > 0; n-- {
			e.evidence = append(e.evidence, pick(rng, evidenceCodes))
		}
		for n := rng.Intn(3); n > 0; n-- {
			e.publications = append(e.publications, fmt.Sprintf("PMID:%d", 10000000+rng.Intn(20000000)))
		}
		g.edges = append(g.edges, e)
	}
	return g
}

// buildTree links each term after the first to a random earlier term,
// which guarantees an acyclic forest with index 0 as the root.
func buildTree(rng *rand.Rand, n int) []int {
	parents := make([]int, n)
	for i := range parents {
		if i == 0 {
			parents[i] = -1
			continue
		}
		parents[i] = rng.Intn(i)
	}
	return parents
}

func pick(rng *rand.Rand, items []string) string {
	return items[rng.Intn(len(items))]
}

func geneSymbol(rng *rand.Rand) string {
	b := make([]byte, 3)
	for i := range b {
		b[i] = byte('A' + rng.Intn(26))
	}
	return fmt.Sprintf("%s%d", b, 1+rng.Intn(9))
}

func (g *graph) nodesTSV() string {
	var sb strings.Builder
	sb.WriteString("id\tname\tcategory\tin_taxon\tin_taxon_label\n")
	for _, n := range g.nodes {
		sb.WriteString(strings.Join([]string{n.id, n.name, n.category, n.taxon, n.taxonLabel}, "\t"))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (g *graph) edgesTSV() string {
	var sb strings.Builder
	sb.WriteString("id\tsubject\tpredicate\tobject\tnegated\thas_evidence\tpublications\tprimary_knowledge_source\n")
	for _, e := range g.edges {
		negated := ""
		if e.negated {
			negated = "True"
		}
		sb.WriteString(strings.Join([]string{
			e.id, e.subject, e.predicate, e.object, negated,
			strings.Join(e.evidence, "|"), strings.Join(e.publications, "|"), e.source,
		}, "\t"))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// closureTSV emits one subClassOf triple per proper ancestor of every
// phenotype and disease term.
func (g *graph) closureTSV() string {
	var sb strings.Builder
	emit := func(ids []string, parents []int) {
		for i := range ids {
			for p := parents[i]; p >= 0; p = parents[p] {
				sb.WriteString(ids[i] + "\trdfs:subClassOf\t" + ids[p] + "\n")
			}
		}
	}
	emit(g.phenoIDs, g.phenoParents)
	emit(g.diseaseIDs, g.diseaseParents)
	return sb.String()
}

func writeArchive(path, name string, g *graph) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	members := []struct {
		name, body string
	}{
		{name + "/" + name + "_nodes.tsv", g.nodesTSV()},
		{name + "/" + name + "_edges.tsv", g.edgesTSV()},
	}
	for _, m := range members {
		hdr := &tar.Header{Name: m.name, Mode: 0o644, Size: int64(len(m.body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			_ = f.Close()
			return err
		}
		if _, err := tw.Write([]byte(m.body)); err != nil {
			_ = f.Close()
			return err
		}
	}

	if err := tw.Close(); err != nil {
		_ = f.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
