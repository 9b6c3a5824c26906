package domain

// City is a monitored location.
type City struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	NameEN string  `json:"name_en"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
}

// Label is the human readable location used in alert text.
func (c City) Label() string {
	if c.NameEN != "" {
		return c.NameEN
	}
	if c.Name != "" {
		return c.Name
	}
	return "Unknown"
}

// DefaultCities are the provinces seeded into an empty store.
func DefaultCities() []City {
	return []City{
		{ID: 1, Name: "ນະຄອນຫຼວງວຽງຈັນ", NameEN: "Vientiane", Lat: 17.9757, Lon: 102.6331},
		{ID: 2, Name: "ຫຼວງພະບາງ", NameEN: "Luang Prabang", Lat: 19.8833, Lon: 102.1333},
		{ID: 3, Name: "ປາກເຊ", NameEN: "Pakse", Lat: 15.1202, Lon: 105.7994},
		{ID: 4, Name: "ສະຫວັນນະເຂດ", NameEN: "Savannakhet", Lat: 17.4104, Lon: 104.7800},
		{ID: 5, Name: "ຈຳປາສັກ", NameEN: "Champasak", Lat: 14.5565, Lon: 105.9717},
		{ID: 6, Name: "ອັດຕະປື", NameEN: "Attapeu", Lat: 14.8095, Lon: 106.4252},
		{ID: 7, Name: "ຫົວພັນ", NameEN: "Houaphanh", Lat: 20.2675, Lon: 104.2831},
		{ID: 8, Name: "ສາລະວັນ", NameEN: "Salavan", Lat: 15.7142, Lon: 106.4131},
		{ID: 9, Name: "ເຊກອງ", NameEN: "Sekong", Lat: 16.5632, Lon: 106.7508},
		{ID: 10, Name: "ບໍ່ແກ້ວ", NameEN: "Bokeo", Lat: 18.2674, Lon: 105.1217},
		{ID: 11, Name: "ຄຳມ່ວນ", NameEN: "Khammouane", Lat: 19.4260, Lon: 101.6625},
		{ID: 12, Name: "ໄຊສົມບູນ", NameEN: "Xaisomboun", Lat: 20.2554, Lon: 103.8176},
		{ID: 13, Name: "ຜົ້ງສາລີ", NameEN: "Phongsaly", Lat: 21.4067, Lon: 102.0703},
		{ID: 14, Name: "ອຸດົມໄຊ", NameEN: "Oudomxay", Lat: 18.3568, Lon: 101.6850},
		{ID: 15, Name: "ຊຽງຂວາງ", NameEN: "Xiangkhouang", Lat: 19.4503, Lon: 103.2544},
		{ID: 16, Name: "ຫຼວງນ້ຳທາ", NameEN: "Luang Namtha", Lat: 20.9342, Lon: 101.4014},
		{ID: 17, Name: "ບໍລິຄຳໄຊ", NameEN: "Bolikhamxay", Lat: 18.2716, Lon: 104.2836},
		{ID: 18, Name: "ວຽງຄຳ", NameEN: "Vientiane Province", Lat: 15.9301, Lon: 105.9149},
	}
}
