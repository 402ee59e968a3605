package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"

	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/internal/parsers"
)

// ScenarioGenerator writes a consistent set of hospital files for one
// competence: the internal AIH export, the SISAIH01 extract, the billed
// procedures, the TabWin audit export and the SIGTAP catalog.
type ScenarioGenerator struct {
	Count             int
	Competence        string
	Facility          string
	MatchRatio        float64
	PendingRatio      float64
	ProceduresPerAIH  int
	ValueDriftRatio   float64
	QuantityDiffRatio float64
	OutputDir         string

	rng *rand.Rand
}

// Manifest records what a reconciliation of the generated files must report.
type Manifest struct {
	Seed       int64  `json:"seed"`
	Competence string `json:"competence"`
	Files      struct {
		Internal   string `json:"internal"`
		Extract    string `json:"extract"`
		Procedures string `json:"procedures"`
		Audit      string `json:"audit"`
		Catalog    string `json:"catalog"`
	} `json:"files"`
	Sync struct {
		Synced      int `json:"synced"`
		Pending     int `json:"pending"`
		Unprocessed int `json:"unprocessed"`
	} `json:"sync"`
	Audit struct {
		PerfectMatches      int `json:"perfect_matches"`
		ValueDifferences    int `json:"value_differences"`
		QuantityDifferences int `json:"quantity_differences"`
		GlosasPossiveis     int `json:"glosas_possiveis"`
		RejeicoesPossiveis  int `json:"rejeicoes_possiveis"`
	} `json:"audit"`
}

type catalogItem struct {
	Code        string
	Description string
	Value       decimal.Decimal
}

var catalog = []catalogItem{
	{"0301010072", "CONSULTA MEDICA EM ATENCAO ESPECIALIZADA", decimal.RequireFromString("10.00")},
	{"0211020036", "ELETROCARDIOGRAMA", decimal.RequireFromString("5.15")},
	{"0303140151", "TRATAMENTO DE PNEUMONIAS OU INFLUENZA (GRIPE)", decimal.RequireFromString("584.12")},
	{"0202010473", "DOSAGEM DE GLICOSE", decimal.RequireFromString("1.85")},
	{"0204030153", "RADIOGRAFIA DE TORAX (PA E PERFIL)", decimal.RequireFromString("9.50")},
	{"0802010083", "DIARIA DE UTI ADULTO (UTI II)", decimal.RequireFromString("478.72")},
	{"0407030026", "COLECISTECTOMIA VIDEOLAPAROSCOPICA", decimal.RequireFromString("1098.37")},
	{"0310010039", "PARTO NORMAL", decimal.RequireFromString("443.40")},
}

var patients = []string{
	"MARIA DA CONCEIÇÃO SILVA", "JOSÉ APARECIDO SOUZA", "ANA LÚCIA PEREIRA",
	"JOÃO BATISTA DOS SANTOS", "FRANCISCA DAS CHAGAS LIMA", "ANTÔNIO CARLOS OLIVEIRA",
}

type authorization struct {
	number  string
	patient string
	admit   time.Time
	side    string // both, internal, external
}

func main() {
	var (
		outputDir    = flag.String("output-dir", "generated", "Output directory for the scenario files")
		count        = flag.Int("count", 100, "Number of authorizations to generate")
		competence   = flag.String("competence", "202401", "Competence of the generated files (YYYYMM)")
		facility     = flag.String("facility", "2077485", "CNES of the hospital")
		matchRatio   = flag.Float64("match-ratio", 0.8, "Share of authorizations present on both sides")
		pendingRatio = flag.Float64("pending-ratio", 0.1, "Share of authorizations only in the internal system")
		perAIH       = flag.Int("procedures", 2, "Procedures billed per authorization")
		drift        = flag.Float64("value-drift", 0.1, "Share of matched procedures with a value difference")
		qtyDiff      = flag.Float64("quantity-diff", 0.05, "Share of matched procedures with a quantity difference")
		seed         = flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible generation")
	)
	flag.Parse()

	normalized, err := models.NormalizeCompetence(*competence)
	if err != nil {
		log.Fatalf("Invalid competence: %v", err)
	}
	if *matchRatio < 0 || *pendingRatio < 0 || *matchRatio+*pendingRatio > 1 {
		log.Fatalf("match-ratio and pending-ratio must be non-negative and sum to at most 1")
	}
	if *perAIH < 1 || *perAIH > len(catalog) {
		log.Fatalf("procedures must be between 1 and %d", len(catalog))
	}
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	generator := &ScenarioGenerator{
		Count:             *count,
		Competence:        normalized,
		Facility:          *facility,
		MatchRatio:        *matchRatio,
		PendingRatio:      *pendingRatio,
		ProceduresPerAIH:  *perAIH,
		ValueDriftRatio:   *drift,
		QuantityDiffRatio: *qtyDiff,
		OutputDir:         *outputDir,
		rng:               rand.New(rand.NewSource(*seed)),
	}

	manifest, err := generator.Generate()
	if err != nil {
		log.Fatalf("Failed to generate scenario: %v", err)
	}
	manifest.Seed = *seed

	if err := writeManifest(filepath.Join(*outputDir, "manifest.json"), manifest); err != nil {
		log.Fatalf("Failed to write manifest: %v", err)
	}

	fmt.Printf("Generated %d authorizations for competence %s in %s\n", *count, normalized, *outputDir)
	fmt.Printf("Sync: %d synced, %d pending, %d unprocessed\n", manifest.Sync.Synced, manifest.Sync.Pending, manifest.Sync.Unprocessed)
	fmt.Printf("Audit: %d perfect, %d value and %d quantity differences, %d glosas, %d rejections\n",
		manifest.Audit.PerfectMatches, manifest.Audit.ValueDifferences, manifest.Audit.QuantityDifferences,
		manifest.Audit.GlosasPossiveis, manifest.Audit.RejeicoesPossiveis)
	fmt.Printf("Seed used: %d\n", *seed)
}

// Generate writes every file of the scenario and returns its manifest.
func (sg *ScenarioGenerator) Generate() (*Manifest, error) {
	manifest := &Manifest{Competence: sg.Competence}
	aihs := sg.authorizations(manifest)

	var internalRows, systemRows, auditRows [][]string
	var extract []string

	for _, a := range aihs {
		if a.side != "external" {
			internalRows = append(internalRows, sg.internalRow(a))
		}
		if a.side != "internal" {
			extract = append(extract, parsers.EncodeLine(sg.extractRecord(a)))
		}

		for _, item := range sg.pickProcedures() {
			quantity := 1 + sg.rng.Intn(3)
			value := item.Value.Mul(decimal.NewFromInt(int64(quantity)))

			switch a.side {
			case "internal":
				systemRows = append(systemRows, systemRow(a, item, quantity, value))
				manifest.Audit.RejeicoesPossiveis++
			case "external":
				auditRows = append(auditRows, sg.auditRow(a, item, quantity, value))
				manifest.Audit.GlosasPossiveis++
			default:
				systemRows = append(systemRows, systemRow(a, item, quantity, value))
				roll := sg.rng.Float64()
				switch {
				case roll < sg.ValueDriftRatio:
					// above any tolerance up to 1.00
					auditRows = append(auditRows, sg.auditRow(a, item, quantity, value.Add(decimal.RequireFromString("1.50"))))
					manifest.Audit.ValueDifferences++
				case roll < sg.ValueDriftRatio+sg.QuantityDiffRatio:
					auditRows = append(auditRows, sg.auditRow(a, item, quantity+1, value))
					manifest.Audit.QuantityDifferences++
				default:
					auditRows = append(auditRows, sg.auditRow(a, item, quantity, value))
					manifest.Audit.PerfectMatches++
				}
			}
		}
	}

	manifest.Files.Internal = "aihs.csv"
	manifest.Files.Extract = "AIH" + sg.Competence + ".TXT"
	manifest.Files.Procedures = "procedimentos.csv"
	manifest.Files.Audit = "tabwin.csv"
	manifest.Files.Catalog = "sigtap.csv"

	if err := sg.writeCSV(manifest.Files.Internal,
		[]string{"numero_aih", "competencia", "tipo", "paciente", "data_internacao", "data_saida", "procedimento_principal", "cnes", "criado_em"},
		internalRows); err != nil {
		return nil, err
	}
	if err := sg.writeExtract(manifest.Files.Extract, extract); err != nil {
		return nil, err
	}
	if err := sg.writeCSV(manifest.Files.Procedures,
		[]string{"AIH", "Procedimento", "Descricao", "Quantidade", "Valor", "Paciente"}, systemRows); err != nil {
		return nil, err
	}
	if err := sg.writeCSV(manifest.Files.Audit,
		[]string{"N AIH", "Procedimento", "Descricao", "Qtd", "Valor Total", "Competencia"}, auditRows); err != nil {
		return nil, err
	}

	var catalogRows [][]string
	for _, item := range catalog {
		catalogRows = append(catalogRows, []string{item.Code, item.Description})
	}
	if err := sg.writeCSV(manifest.Files.Catalog, []string{"codigo", "descricao"}, catalogRows); err != nil {
		return nil, err
	}
	return manifest, nil
}

func (sg *ScenarioGenerator) authorizations(manifest *Manifest) []authorization {
	year, month := sg.Competence[:4], sg.Competence[4:]
	start, _ := time.Parse("200601", year+month)

	synced := int(float64(sg.Count) * sg.MatchRatio)
	pending := int(float64(sg.Count) * sg.PendingRatio)
	manifest.Sync.Synced = synced
	manifest.Sync.Pending = pending
	manifest.Sync.Unprocessed = sg.Count - synced - pending

	aihs := make([]authorization, sg.Count)
	for i := range aihs {
		side := "external"
		switch {
		case i < synced:
			side = "both"
		case i < synced+pending:
			side = "internal"
		}
		aihs[i] = authorization{
			number:  fmt.Sprintf("3524%s%05d", sg.Competence[2:], i+1),
			patient: patients[sg.rng.Intn(len(patients))],
			admit:   start.AddDate(0, 0, sg.rng.Intn(25)),
			side:    side,
		}
	}
	sg.rng.Shuffle(len(aihs), func(i, j int) { aihs[i], aihs[j] = aihs[j], aihs[i] })
	return aihs
}

func (sg *ScenarioGenerator) pickProcedures() []catalogItem {
	picked := make([]catalogItem, 0, sg.ProceduresPerAIH)
	for _, i := range sg.rng.Perm(len(catalog))[:sg.ProceduresPerAIH] {
		picked = append(picked, catalog[i])
	}
	return picked
}

func (sg *ScenarioGenerator) internalRow(a authorization) []string {
	discharge := a.admit.AddDate(0, 0, 1+sg.rng.Intn(5))
	created := a.admit.Add(time.Duration(8+sg.rng.Intn(10)) * time.Hour)
	return []string{
		formatNumber(a.number, sg.rng),
		sg.Competence,
		string(models.RecordTypePrincipal),
		a.patient,
		a.admit.Format("02/01/2006"),
		discharge.Format("02/01/2006"),
		catalog[2].Code,
		sg.Facility,
		created.Format("2006-01-02 15:04:05"),
	}
}

func (sg *ScenarioGenerator) extractRecord(a authorization) *models.AIHRecord {
	return &models.AIHRecord{
		AuthorizationNumber:    a.number,
		RecordType:             models.RecordTypePrincipal,
		CompetencePeriod:       sg.Competence,
		FacilityCode:           sg.Facility,
		AdmissionDate:          models.NewDate(a.admit.Year(), a.admit.Month(), a.admit.Day()),
		PrimaryProcedureCode:   catalog[2].Code,
		RequestedProcedureCode: catalog[2].Code,
		Patient:                models.Patient{Name: a.patient},
	}
}

func systemRow(a authorization, item catalogItem, quantity int, value decimal.Decimal) []string {
	return []string{a.number, item.Code, item.Description, fmt.Sprint(quantity), value.StringFixed(2), a.patient}
}

// auditRow renders values the way TabWin does, with a decimal comma.
func (sg *ScenarioGenerator) auditRow(a authorization, item catalogItem, quantity int, value decimal.Decimal) []string {
	return []string{
		a.number,
		item.Code,
		item.Description,
		fmt.Sprint(quantity),
		strings.Replace(value.StringFixed(2), ".", ",", 1),
		sg.Competence,
	}
}

// formatNumber sometimes renders the number the way clerks type it, with
// separators the key normalization strips.
func formatNumber(number string, rng *rand.Rand) string {
	if rng.Float64() < 0.2 {
		return number[:4] + "-" + number[4:8] + "-" + number[8:12] + "-" + number[12:]
	}
	return number
}

func (sg *ScenarioGenerator) writeCSV(name string, headers []string, rows [][]string) error {
	file, err := os.Create(filepath.Join(sg.OutputDir, name))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	writer.Comma = ';'
	if err := writer.Write(headers); err != nil {
		return err
	}
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return file.Sync()
}

// writeExtract stores the SISAIH01 lines in Latin-1 with CRLF endings.
func (sg *ScenarioGenerator) writeExtract(name string, lines []string) error {
	encoded, err := charmap.ISO8859_1.NewEncoder().String(strings.Join(lines, "\r\n") + "\r\n")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(sg.OutputDir, name), []byte(encoded), 0o644)
}

func writeManifest(path string, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
